// Package store implements the shared TTL store (C3): an external,
// process-shared key/value layer with per-key TTL, atomic counters, and
// pattern enumeration. Backed by Redis. Strict linearizability is not
// required — at-least-once durability for counters within a window is
// sufficient (§4.3).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solix/warehouse-gateway/config"
)

// Store is the interface C4 (cache) and C7 (admission) depend on. Keeping
// it as an interface lets tests substitute an in-memory fake without a
// live Redis instance.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key string, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	c *redis.Client
}

// New creates a Redis-backed Store from the provided config. Returns an
// error if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid REDIS_URL: %w", err)
	}
	return &RedisStore{c: redis.NewClient(opt)}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) SetEX(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.c.Set(ctx, key, value, ttl).Err()
}

// Incr atomically increments key and returns the post-increment value.
// Callers that also need a TTL on a fresh key should follow with Expire —
// the two are not combined atomically, matching the store's documented
// at-least-once (not linearizable) counter semantics.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.c.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.c.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.c.Del(ctx, keys...).Err()
}

// Keys enumerates keys matching pattern via a cursor-based SCAN rather than
// the O(N) KEYS command, so tier-2 invalidation sweeps don't stall Redis.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		batch, next, err := s.c.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.c.Close()
}
