package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements Locker.
var _ Locker = (*PostgresStore)(nil)

func (s *PostgresStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	token := newLeaseToken()
	now := s.now()
	nowMS := now.UnixMilli()
	expiresMS := now.Add(ttl).UnixMilli()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (lease_key, token, acquired_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (lease_key) DO UPDATE SET token = EXCLUDED.token, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		 WHERE leases.expires_at <= $3`,
		key, token, nowMS, expiresMS,
	)
	if err != nil {
		return "", false, fmt.Errorf("acquire lease failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease rows affected failed: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.Acquire: lease held", "key", key)
		return "", false, nil
	}
	slog.Debug("PostgresStore.Acquire", "key", key, "ttl", ttl)
	return token, true, nil
}

func (s *PostgresStore) Release(ctx context.Context, key, token string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE lease_key = $1 AND token = $2`, key, token)
	if err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	slog.Debug("PostgresStore.Release", "key", key)
	return nil
}

func (s *PostgresStore) PurgeExpiredLeases(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE expires_at <= $1`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired leases failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
