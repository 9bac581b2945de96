// Package store provides storage backends for RemindPipe.
//
// It holds the delay queue (jobs), the lock provider (leases), the idempotency
// store (marks) and the reminder record store, each with in-memory, SQLite and
// PostgreSQL implementations. Locks and marks can also be served by Redis.
package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Default configuration for SQL-backed stores.
const (
	// DefaultQueryTimeout bounds every individual store call.
	DefaultQueryTimeout = 5 * time.Second
)

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN          string
	QueryTimeout time.Duration
	Clock        func() time.Time
}

// Option defines a configuration option for the SQL stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithQueryTimeout overrides the per-call timeout applied to every query.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.QueryTimeout = d
	}
}

// WithClock replaces time.Now for TTL and scheduling arithmetic. Tests only.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = now
	}
}

func (o Opts) queryTimeout() time.Duration {
	if o.QueryTimeout <= 0 {
		return DefaultQueryTimeout
	}
	return o.QueryTimeout
}

func (o Opts) clock() func() time.Time {
	if o.Clock == nil {
		return time.Now
	}
	return o.Clock
}

// DetectDSNType reports which SQL driver a DSN belongs to: "postgres" or "sqlite3".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store is the full set of collaborators the reminder core needs, plus the
// purge hooks maintenance runs against its TTL tables.
type Store interface {
	JobRepo
	Locker
	IdempotencyStore
	ReminderRepo
	MarkMaintainer
	LeaseMaintainer
	Close() error
}

// withTimeout bounds a single store call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// Compile-time checks that the SQL stores implement Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// NewStore opens the backend selected by the configured DSN: PostgreSQL for
// postgres DSNs, SQLite for file paths, in-memory when no DSN is set.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Warn("NewStore: no DSN configured, using in-memory store; reminders will not survive restarts")
		return NewInMemoryStore(opts...), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		st, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
