// Package store provides the IdempotencyStore interface for side-effect marks.
package store

import (
	"context"
	"time"
)

// IdempotencyStore records TTL-bounded marks proving a side effect already
// happened. An expired mark behaves exactly like an absent one.
type IdempotencyStore interface {
	// Exists reports whether an unexpired mark is present for key.
	Exists(ctx context.Context, key string) (bool, error)

	// Set writes (or refreshes) the mark for key with the given TTL.
	Set(ctx context.Context, key string, ttl time.Duration) error
}

// MarkMaintainer is implemented by idempotency stores that keep expired
// rows around until they are purged.
type MarkMaintainer interface {
	PurgeExpiredMarks(ctx context.Context) (int, error)
}
