package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

const redisKeyPrefix = "hnarchive:analytics:"

// redisCache stores entries as JSON under a namespaced key with Redis-side
// expiry.
type redisCache struct {
	client *redis.Client
	log    *slog.Logger
}

func newRedisCache(addr string, db int, log *slog.Logger) *redisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &redisCache{client: client, log: log}
}

func (c *redisCache) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, storage.ErrCacheMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read cache key %q: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Corrupt entries count as misses so the caller recomputes.
		c.log.Warn("corrupt cache entry, treating as miss", "key", key, "error", err)
		return Entry{}, storage.ErrCacheMiss
	}
	return e, nil
}

func (c *redisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	e := Entry{Payload: payload, ComputedAt: time.Now().UnixMilli()}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}
	return nil
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
