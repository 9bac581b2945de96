package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements IdempotencyStore.
var _ IdempotencyStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT mark_key FROM idempotency_marks WHERE mark_key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_marks (mark_key, created_at, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (mark_key) DO UPDATE SET created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("idempotency set failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeExpiredMarks(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_marks WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired marks failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
