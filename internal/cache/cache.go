// Package cache provides the analytics response cache behind a small
// interface with two backends: the archive's own SQLite store (default) and
// Redis for deployments that share cached analytics across replicas.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

// Entry is a cached payload plus the time it was computed, in unix
// milliseconds.
type Entry struct {
	Payload    []byte
	ComputedAt int64
}

// Cache stores computed analytics responses keyed by endpoint+params.
// Get returns storage.ErrCacheMiss when the key is absent or expired.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options configures backend construction.
type Options struct {
	Backend   string
	RedisAddr string
	RedisDB   int
	Store     storage.Store
	Logger    *slog.Logger
}

// New builds the configured cache backend. An empty backend name selects
// SQLite.
func New(opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		if opts.Store == nil {
			return nil, fmt.Errorf("sqlite cache backend requires a store")
		}
		return &sqliteCache{store: opts.Store}, nil
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis cache backend requires an address")
		}
		return newRedisCache(opts.RedisAddr, opts.RedisDB, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// sqliteCache keeps entries in the analytics_cache table. TTL is enforced
// on read against the stored computed_at.
type sqliteCache struct {
	store storage.Store
}

func (c *sqliteCache) Get(ctx context.Context, key string) (Entry, error) {
	payload, computedAt, err := c.store.GetAnalyticsCache(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Payload: payload, ComputedAt: computedAt}, nil
}

func (c *sqliteCache) Set(ctx context.Context, key string, payload []byte, _ time.Duration) error {
	return c.store.SetAnalyticsCache(ctx, key, payload)
}

func (c *sqliteCache) Close() error { return nil }

// Fresh reports whether an entry computed at computedAt (unix millis) is
// still within ttl as of now.
func Fresh(computedAt int64, ttl time.Duration, now time.Time) bool {
	return now.UnixMilli()-computedAt < ttl.Milliseconds()
}
