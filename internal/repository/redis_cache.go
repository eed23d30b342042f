package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

// RedisCache shares cached licenses between server instances.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "license_cache"),
	}
}

func (c *RedisCache) key(licenseKey string) string {
	return c.prefix + ":license:" + hashCacheKey(licenseKey)
}

// Get treats every Redis failure as a miss; the database stays authoritative.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.License, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "license cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	var lic models.License
	if err := json.Unmarshal(raw, &lic); err != nil {
		c.logger.WarnContext(ctx, "license cache entry is corrupt", slog.String("error", err.Error()))
		return nil, false
	}
	return &lic, true
}

func (c *RedisCache) Set(ctx context.Context, key string, lic *models.License) {
	if lic == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(lic)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "license cache write failed", slog.String("error", err.Error()))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = c.key(k)
	}
	if err := c.client.Del(ctx, redisKeys...).Err(); err != nil {
		c.logger.ErrorContext(ctx, "license cache invalidation failed",
			slog.Int("keys", len(keys)),
			slog.String("error", err.Error()))
	}
}
