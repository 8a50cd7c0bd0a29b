// Package pipeline implements the three ingestion pipelines: discovery of
// new items behind the watermark, the change-feed update sweep, and the
// backfill pass (stale refresh, AI enrichment, embedding generation).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hnfoundry/hnarchive/internal/ai"
	"github.com/hnfoundry/hnarchive/internal/hnclient"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
	"github.com/hnfoundry/hnarchive/internal/vector"
)

// Pipeline names as stored in worker_metrics and error_log rows.
const (
	NameDiscovery  = "discovery"
	NameUpdates    = "updates"
	NameBackfill   = "backfill"
	NameAIBackfill = "ai-backfill"
)

// Options tunes the pipelines. Zero values take the documented defaults.
type Options struct {
	BatchSize          int           // discovery batch size, default 100
	ColdStartBacklog   int64         // first-run lookbehind, default 1000
	DedupWindow        time.Duration // update-feed dedup, default 5m
	Stale              storage.StaleFilter
	AIBatchSize        int // stories classified per backfill, default 50
	EmbeddingBatchSize int // stories embedded per backfill, default 50
	Clock              func() time.Time
}

// Pipelines binds the upstream client, the store, and the optional AI
// collaborators. Classifier, Embedder, and Vectors may be nil; the backfill
// phases that need them are skipped.
type Pipelines struct {
	client     *hnclient.Client
	store      storage.Store
	classifier *ai.Classifier
	embedder   *ai.Embedder
	vectors    *vector.Client
	log        *slog.Logger
	now        func() time.Time
	opts       Options
}

// New wires the pipelines together.
func New(client *hnclient.Client, store storage.Store, classifier *ai.Classifier, embedder *ai.Embedder, vectors *vector.Client, log *slog.Logger, opts Options) *Pipelines {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ColdStartBacklog <= 0 {
		opts.ColdStartBacklog = 1000
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.AIBatchSize <= 0 {
		opts.AIBatchSize = 50
	}
	if opts.EmbeddingBatchSize <= 0 {
		opts.EmbeddingBatchSize = 50
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Pipelines{
		client:     client,
		store:      store,
		classifier: classifier,
		embedder:   embedder,
		vectors:    vectors,
		log:        log,
		now:        now,
		opts:       opts,
	}
}

// Run dispatches a pipeline by name. Used by the trigger endpoints and the
// CLI.
func (p *Pipelines) Run(ctx context.Context, name string) (types.RunResult, error) {
	switch name {
	case NameDiscovery:
		return p.Discovery(ctx), nil
	case NameUpdates:
		return p.Updates(ctx), nil
	case NameBackfill:
		return p.Backfill(ctx), nil
	case NameAIBackfill:
		return p.AIBackfill(ctx), nil
	}
	return types.RunResult{}, fmt.Errorf("unknown pipeline %q", name)
}

// fail records a pipeline-level error on the result: error log row, counter,
// message.
func (p *Pipelines) fail(ctx context.Context, res *types.RunResult, err error, errCtx map[string]string) {
	res.Errors++
	res.ErrorMessages = append(res.ErrorMessages, err.Error())
	if logErr := p.store.LogError(ctx, res.Pipeline, err.Error(), errCtx); logErr != nil {
		p.log.Warn("failed to persist error log", "pipeline", res.Pipeline, "error", logErr)
	}
}

// finish stamps duration and success and persists the metrics row.
func (p *Pipelines) finish(ctx context.Context, res *types.RunResult, start time.Time) types.RunResult {
	res.DurationMS = p.now().Sub(start).Milliseconds()
	res.Success = res.Errors == 0
	m := types.WorkerMetrics{
		CreatedAt:        p.now().UnixMilli(),
		Pipeline:         res.Pipeline,
		ItemsProcessed:   res.ItemsProcessed,
		ItemsChanged:     res.ItemsChanged,
		SnapshotsCreated: res.SnapshotsCreated,
		DurationMS:       res.DurationMS,
		ErrorCount:       res.Errors,
	}
	if err := p.store.RecordWorkerMetrics(ctx, m); err != nil {
		p.log.Warn("failed to record worker metrics", "pipeline", res.Pipeline, "error", err)
	}
	p.log.Info("pipeline run finished",
		"pipeline", res.Pipeline,
		"success", res.Success,
		"processed", res.ItemsProcessed,
		"changed", res.ItemsChanged,
		"snapshots", res.SnapshotsCreated,
		"errors", res.Errors,
		"duration_ms", res.DurationMS)
	return *res
}

// setState writes a coordination key best-effort.
func (p *Pipelines) setState(ctx context.Context, key string, value int64) {
	if err := p.store.SetState(ctx, key, value); err != nil {
		p.log.Warn("failed to write state", "key", key, "error", err)
	}
}

// bumpArchivedToday adds n to the daily archive counter best-effort.
func (p *Pipelines) bumpArchivedToday(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	cur, err := p.store.GetState(ctx, storage.StateItemsArchivedToday)
	if err != nil {
		p.log.Warn("failed to read archived-today counter", "error", err)
		return
	}
	p.setState(ctx, storage.StateItemsArchivedToday, cur+int64(n))
}
