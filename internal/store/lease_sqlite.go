package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements Locker.
var _ Locker = (*SQLiteStore)(nil)

func (s *SQLiteStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	token := newLeaseToken()
	now := s.now()
	nowMS := now.UnixMilli()
	expiresMS := now.Add(ttl).UnixMilli()

	// The upsert only overwrites a lease whose holder has let it expire.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (lease_key, token, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (lease_key) DO UPDATE SET token = excluded.token, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at
		 WHERE leases.expires_at <= ?`,
		key, token, nowMS, expiresMS, nowMS,
	)
	if err != nil {
		return "", false, fmt.Errorf("acquire lease failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease rows affected failed: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.Acquire: lease held", "key", key)
		return "", false, nil
	}
	slog.Debug("SQLiteStore.Acquire", "key", key, "ttl", ttl)
	return token, true, nil
}

func (s *SQLiteStore) Release(ctx context.Context, key, token string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE lease_key = ? AND token = ?`, key, token)
	if err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	slog.Debug("SQLiteStore.Release", "key", key)
	return nil
}

func (s *SQLiteStore) PurgeExpiredLeases(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired leases failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
