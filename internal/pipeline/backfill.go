package pipeline

import (
	"context"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/ai"
	"github.com/hnfoundry/hnarchive/internal/snapshot"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
	"github.com/hnfoundry/hnarchive/internal/vector"
)

// Backfill runs the three maintenance phases in order: stale item refresh,
// AI classification, and embedding generation. The phases are isolated; a
// failure in one is recorded and the next still runs. last_backfill_run is
// stamped even on failure.
func (p *Pipelines) Backfill(ctx context.Context) types.RunResult {
	start := p.now()
	res := types.RunResult{Pipeline: NameBackfill}
	defer p.setState(ctx, storage.StateLastBackfillRun, p.now().UnixMilli())

	p.refreshStale(ctx, &res)
	p.analyzePhase(ctx, &res)
	p.embedPhase(ctx, &res)

	return p.finish(ctx, &res, start)
}

// AIBackfill runs only the enrichment phases, for the manual trigger that
// catches classification up without re-fetching stale items.
func (p *Pipelines) AIBackfill(ctx context.Context) types.RunResult {
	start := p.now()
	res := types.RunResult{Pipeline: NameAIBackfill}

	p.analyzePhase(ctx, &res)
	p.embedPhase(ctx, &res)

	return p.finish(ctx, &res, start)
}

// refreshStale re-fetches high-value items whose last fetch is older than
// the threshold. Older items only earn snapshots for score spikes; the
// sample and front_page reasons would add noise for content that long left
// the front page.
func (p *Pipelines) refreshStale(ctx context.Context, res *types.RunResult) {
	ids, err := p.store.StaleItemIDs(ctx, p.opts.Stale)
	if err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to select stale items: %w", err), nil)
		return
	}
	if len(ids) == 0 {
		return
	}

	items, failed := p.client.ItemsBatch(ctx, ids)
	if failed > 0 {
		p.fail(ctx, res, fmt.Errorf("failed to refresh %d of %d stale items", failed, len(ids)), map[string]string{
			"stale_count": fmt.Sprintf("%d", len(ids)),
		})
	}
	if len(items) == 0 {
		return
	}
	enriched := make([]types.EnrichedItem, len(items))
	for i, it := range items {
		enriched[i] = types.EnrichedItem{Item: it}
	}

	result, err := p.store.UpsertItems(ctx, enriched)
	if err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to upsert stale batch: %w", err), map[string]string{
			"stale_count": fmt.Sprintf("%d", len(ids)),
		})
		return
	}
	res.ItemsProcessed += result.Processed
	res.ItemsChanged += result.Changed

	spikes := snapshot.FilterReason(result.Snapshots, types.ReasonScoreSpike)
	n, err := p.store.InsertSnapshots(ctx, spikes)
	if err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to insert stale snapshots: %w", err), nil)
		return
	}
	res.SnapshotsCreated += n
}

// analyzePhase classifies unanalyzed stories. Skipped silently when no
// classifier is configured.
func (p *Pipelines) analyzePhase(ctx context.Context, res *types.RunResult) {
	if p.classifier == nil {
		p.log.Debug("no classifier configured, skipping analysis phase")
		return
	}
	stories, err := p.store.StoriesNeedingAnalysis(ctx, p.opts.AIBatchSize)
	if err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to select stories for analysis: %w", err), nil)
		return
	}
	if len(stories) == 0 {
		return
	}

	results, failed := ai.AnalyzeStories(ctx, p.classifier, stories, p.log)
	if failed > 0 {
		res.Errors += failed
		msg := fmt.Sprintf("analysis failed for %d of %d stories", failed, len(stories))
		res.ErrorMessages = append(res.ErrorMessages, msg)
		if err := p.store.LogError(ctx, res.Pipeline, msg, nil); err != nil {
			p.log.Warn("failed to persist error log", "pipeline", res.Pipeline, "error", err)
		}
	}
	if len(results) == 0 {
		return
	}
	if err := p.store.SaveAnalyses(ctx, results); err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to save analyses: %w", err), nil)
		return
	}
	res.ItemsProcessed += len(results)
}

// embedPhase generates and stores embeddings for analyzed stories, gated by
// the storage budget. A budget denial is not an error: the phase reports
// zero work and surfaces the denial reason.
func (p *Pipelines) embedPhase(ctx context.Context, res *types.RunResult) {
	if p.embedder == nil || p.vectors == nil {
		p.log.Debug("embedder or vector index not configured, skipping embedding phase")
		return
	}

	decision, err := p.store.CheckBudget(ctx, types.OpEmbeddingBackfill)
	if err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to check embedding budget: %w", err), nil)
		return
	}
	if !decision.Allowed {
		p.log.Info("embedding backfill denied by budget", "reason", decision.Reason)
		res.ErrorMessages = append(res.ErrorMessages, decision.Reason)
		return
	}

	stories, err := p.store.StoriesNeedingEmbeddings(ctx, p.opts.EmbeddingBatchSize)
	if err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to select stories for embedding: %w", err), nil)
		return
	}
	if len(stories) == 0 {
		return
	}

	// Settle per story: one bad embedding must not discard the rest of the
	// batch's progress.
	upserts := make([]vector.Vector, 0, len(stories))
	ids := make([]int64, 0, len(stories))
	failed := 0
	for _, s := range stories {
		vec, err := p.embedder.EmbedText(ctx, ai.EmbeddingText(s.Title, s.AITopic, s.Text))
		if err != nil {
			p.log.Warn("embedding failed", "id", s.ID, "error", err)
			failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		ids = append(ids, s.ID)
		upserts = append(upserts, vector.Vector{
			ID:     vector.VectorID(s.ID),
			Values: vec,
			Metadata: vector.Metadata{
				Topic: s.AITopic,
				Score: s.ScoreValue(),
				Title: vector.TruncateTitle(s.Title),
			},
		})
	}
	if failed > 0 {
		res.Errors += failed
		msg := fmt.Sprintf("embedding failed for %d of %d stories", failed, len(stories))
		res.ErrorMessages = append(res.ErrorMessages, msg)
		if err := p.store.LogError(ctx, res.Pipeline, msg, nil); err != nil {
			p.log.Warn("failed to persist error log", "pipeline", res.Pipeline, "error", err)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := p.vectors.Upsert(ctx, upserts); err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to upsert vectors: %w", err), nil)
		return
	}
	if err := p.store.MarkEmbedded(ctx, ids); err != nil {
		p.fail(ctx, res, fmt.Errorf("failed to mark items embedded: %w", err), nil)
		return
	}
	p.store.IncrementUsage(ctx, storage.KeyEmbeddingsStoredTotal, int64(len(ids)))
	res.ItemsProcessed += len(ids)
}
