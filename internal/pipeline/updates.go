package pipeline

import (
	"context"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
)

// Updates sweeps the upstream change feed. Ids already re-fetched within the
// dedup window are skipped; the rest are fetched, flagged against the
// current front page, and upserted. last_updates_check is stamped even on
// failure.
func (p *Pipelines) Updates(ctx context.Context) types.RunResult {
	start := p.now()
	res := types.RunResult{Pipeline: NameUpdates}
	defer p.setState(ctx, storage.StateLastUpdatesCheck, p.now().UnixMilli())

	feed, err := p.client.Updates(ctx)
	if err != nil {
		p.fail(ctx, &res, fmt.Errorf("failed to fetch change feed: %w", err), nil)
		return p.finish(ctx, &res, start)
	}
	if len(feed.Items) == 0 {
		return p.finish(ctx, &res, start)
	}

	recent, err := p.store.RecentlyUpdated(ctx, feed.Items, p.opts.DedupWindow)
	if err != nil {
		p.fail(ctx, &res, fmt.Errorf("failed to check dedup window: %w", err), nil)
		return p.finish(ctx, &res, start)
	}
	skip := make(map[int64]bool, len(recent))
	for _, id := range recent {
		skip[id] = true
	}
	candidates := make([]int64, 0, len(feed.Items))
	for _, id := range feed.Items {
		if !skip[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		p.log.Debug("change feed fully deduplicated", "feed_size", len(feed.Items))
		return p.finish(ctx, &res, start)
	}

	// The front page feed only enriches snapshot decisions; its failure
	// must not lose the update sweep.
	frontPage := make(map[int64]bool)
	topIDs, err := p.client.TopStories(ctx)
	if err != nil {
		p.log.Warn("failed to fetch front page, proceeding without flags", "error", err)
	} else {
		for _, id := range topIDs {
			frontPage[id] = true
		}
	}

	batches, err := Chunk(candidates, p.opts.BatchSize)
	if err != nil {
		p.fail(ctx, &res, err, nil)
		return p.finish(ctx, &res, start)
	}

	// Batch failures are isolated: a broken range must not lose the rest
	// of the sweep.
	for _, batch := range batches {
		errCtx := map[string]string{
			"failed_id_range": fmt.Sprintf("%d-%d", batch[0], batch[len(batch)-1]),
		}

		items, failed := p.client.ItemsBatch(ctx, batch)
		if failed > 0 {
			p.fail(ctx, &res, fmt.Errorf("failed to fetch %d of %d changed items", failed, len(batch)), errCtx)
		}
		if len(items) == 0 {
			continue
		}
		enriched := make([]types.EnrichedItem, len(items))
		for i, it := range items {
			enriched[i] = types.EnrichedItem{Item: it, IsFrontPage: frontPage[it.ID]}
		}

		result, err := p.store.UpsertItems(ctx, enriched)
		if err != nil {
			p.fail(ctx, &res, fmt.Errorf("failed to upsert update batch: %w", err), errCtx)
			continue
		}
		res.ItemsProcessed += result.Processed
		res.ItemsChanged += result.Changed

		n, err := p.store.InsertSnapshots(ctx, result.Snapshots)
		if err != nil {
			p.fail(ctx, &res, fmt.Errorf("failed to insert update snapshots: %w", err), errCtx)
			continue
		}
		res.SnapshotsCreated += n

		if ctx.Err() != nil {
			p.fail(ctx, &res, ctx.Err(), errCtx)
			break
		}
	}

	return p.finish(ctx, &res, start)
}
