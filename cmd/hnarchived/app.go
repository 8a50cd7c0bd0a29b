package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/hnfoundry/hnarchive/internal/ai"
	"github.com/hnfoundry/hnarchive/internal/cache"
	"github.com/hnfoundry/hnarchive/internal/config"
	"github.com/hnfoundry/hnarchive/internal/hnclient"
	"github.com/hnfoundry/hnarchive/internal/pipeline"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/storage/sqlite"
	"github.com/hnfoundry/hnarchive/internal/telemetry"
	"github.com/hnfoundry/hnarchive/internal/vector"
)

// app bundles the wired components a command needs.
type app struct {
	store      storage.Store
	client     *hnclient.Client
	classifier *ai.Classifier
	embedder   *ai.Embedder
	vectors    *vector.Client
	cache      cache.Cache
	pipelines  *pipeline.Pipelines
}

// buildApp wires the storage, upstream client, optional AI collaborators,
// and the pipelines from the loaded config. The classifier and embedder are
// optional: a missing API key or embed service only disables enrichment.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	rawStore, err := sqlite.New(ctx, cfg.DBPath, sqlite.Options{
		Limits: sqlite.BudgetLimits{
			VectorizeDaily:  cfg.VectorizeDailyLimit,
			EmbeddingsTotal: cfg.EmbeddingsTotalLimit,
		},
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	store := telemetry.WrapStore(rawStore)

	client, err := hnclient.New(cfg.UpstreamBaseURL, log, hnclient.Options{
		RequestTimeout: cfg.RequestTimeout,
		BucketCapacity: cfg.BucketCapacity,
		RefillPerSec:   cfg.BucketRefillPerSec,
		MaxConcurrent:  cfg.ConcurrentRequests,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	classifier, err := ai.NewClassifier(cfg.AnthropicAPIKey, cfg.AIModel, log)
	if err != nil {
		log.Warn("classifier disabled", "reason", err)
		classifier = nil
	}
	embedder, err := ai.NewEmbedder(cfg.OllamaHost, cfg.EmbedModel, cfg.EmbeddingDims, log)
	if err != nil {
		log.Warn("embedder disabled", "reason", err)
		embedder = nil
	}
	vectors := vector.New(cfg.VectorIndexURL, cfg.VectorIndexToken, log)

	redisAddr, redisDB := parseRedisURL(cfg.RedisURL)
	c, err := cache.New(cache.Options{
		Backend:   cfg.CacheBackend,
		RedisAddr: redisAddr,
		RedisDB:   redisDB,
		Store:     store,
		Logger:    log,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create analytics cache: %w", err)
	}

	pipes := pipeline.New(client, store, classifier, embedder, vectors, log, pipeline.Options{
		BatchSize:        cfg.BatchSize,
		ColdStartBacklog: cfg.ColdStartBacklog,
		DedupWindow:      cfg.DedupWindow,
		Stale: storage.StaleFilter{
			Threshold:      cfg.StaleThreshold,
			MinScore:       cfg.StaleMinScore,
			MinDescendants: cfg.StaleMinDescend,
			Limit:          cfg.StaleLimit,
		},
		AIBatchSize:        cfg.AIBatchSize,
		EmbeddingBatchSize: cfg.EmbeddingBatchSize,
	})

	return &app{
		store:      store,
		client:     client,
		classifier: classifier,
		embedder:   embedder,
		vectors:    vectors,
		cache:      c,
		pipelines:  pipes,
	}, nil
}

// Close releases the store and cache.
func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = a.store.Close()
}

// parseRedisURL extracts addr and db from redis://host:port/db. Malformed
// values fall back to the bare string as an address.
func parseRedisURL(raw string) (string, int) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, 0
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	return u.Host, db
}
