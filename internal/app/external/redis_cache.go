package external

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisIdempotencyCache is the redis-backed IdempotencyCache implementation
// named in SPEC_FULL's domain stack: a thin wrapper since the contract is
// just GET / SETEX.
type RedisIdempotencyCache struct {
	client *redis.Client
}

// NewRedisIdempotencyCache wraps an existing redis client.
func NewRedisIdempotencyCache(client *redis.Client) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client}
}

// Get returns the cached value for key, or ok=false if absent.
func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetEX stores value under key with the given TTL.
func (c *RedisIdempotencyCache) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

var _ IdempotencyCache = (*RedisIdempotencyCache)(nil)
