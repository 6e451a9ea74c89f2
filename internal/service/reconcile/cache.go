package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyCheckout = "payverify:cs:"
	cacheKeyIntent   = "payverify:pi:"
)

// Cache stores terminal provider statuses by lookup key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, status string)
}

type NopCache struct{}

func (NopCache) Get(context.Context, string) (string, bool) { return "", false }
func (NopCache) Set(context.Context, string, string)        {}

// RedisCache treats every Redis failure as a miss.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("reconcile: cache read failed", "key", key, "err", err)
		}
		return "", false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key, status string) {
	if err := c.rdb.Set(ctx, key, status, c.ttl).Err(); err != nil {
		slog.Warn("reconcile: cache write failed", "key", key, "err", err)
	}
}
