// Package store provides storage backends for RemindPipe.
//
// This file implements Redis-backed leases and idempotency marks.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while the caller's token still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOpts holds configuration options for the Redis store.
type RedisOpts struct {
	Addr         string
	Password     string
	DB           int
	QueryTimeout time.Duration
}

// RedisOption defines a configuration option for the Redis store.
type RedisOption func(*RedisOpts)

// WithRedisAddr sets the Redis host:port.
func WithRedisAddr(addr string) RedisOption {
	return func(o *RedisOpts) { o.Addr = addr }
}

// WithRedisPassword sets the Redis AUTH password.
func WithRedisPassword(password string) RedisOption {
	return func(o *RedisOpts) { o.Password = password }
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) RedisOption {
	return func(o *RedisOpts) { o.DB = db }
}

// WithRedisQueryTimeout bounds every Redis round trip.
func WithRedisQueryTimeout(d time.Duration) RedisOption {
	return func(o *RedisOpts) { o.QueryTimeout = d }
}

// RedisStore serves leases and idempotency marks from Redis, relying on key
// expiry for TTLs.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// Compile-time checks that RedisStore implements Locker and IdempotencyStore.
var (
	_ Locker           = (*RedisStore)(nil)
	_ IdempotencyStore = (*RedisStore)(nil)
)

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts ...RedisOption) (*RedisStore, error) {
	var cfg RedisOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address not set")
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.Addr)
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("Redis ping successful", "addr", cfg.Addr)
	return &RedisStore{client: client, timeout: timeout}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	token := newLeaseToken()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis acquire lease failed: %w", err)
	}
	if !ok {
		slog.Debug("RedisStore.Acquire: lease held", "key", key)
		return "", false, nil
	}
	slog.Debug("RedisStore.Acquire", "key", key, "ttl", ttl)
	return token, true, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release lease failed: %w", err)
	}
	slog.Debug("RedisStore.Release", "key", key)
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis idempotency check failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
