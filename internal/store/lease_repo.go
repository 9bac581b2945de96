// Package store provides the Locker interface for TTL-bounded exclusive leases.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Locker grants exclusive, TTL-bounded leases on named resources. A lease
// that is never released expires on its own after its TTL.
type Locker interface {
	// Acquire tries to take the lease on key for ttl. It returns the owner
	// token and true on success, or "" and false when another holder has an
	// unexpired lease. It never blocks waiting for the lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// Release gives up the lease on key if token still owns it. Releasing an
	// expired, foreign or never-acquired lease is a no-op.
	Release(ctx context.Context, key, token string) error
}

// LeaseMaintainer is implemented by lockers that keep expired rows around
// until they are purged.
type LeaseMaintainer interface {
	PurgeExpiredLeases(ctx context.Context) (int, error)
}

// newLeaseToken returns a unique owner token for a lease.
func newLeaseToken() string {
	return uuid.NewString()
}
