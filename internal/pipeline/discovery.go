package pipeline

import (
	"context"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
)

// Discovery advances the max-id watermark. It fetches every id in
// (watermark, live_max], batch by batch, and moves the watermark only past
// batches that were fully fetched and durably written. A failed batch does
// not stop the run, but it freezes the watermark so the next run retries
// from before it; ids are never marked seen unless their batch persisted.
// last_discovery_run is stamped even on failure.
func (p *Pipelines) Discovery(ctx context.Context) types.RunResult {
	start := p.now()
	res := types.RunResult{Pipeline: NameDiscovery}
	defer p.setState(ctx, storage.StateLastDiscoveryRun, p.now().UnixMilli())

	watermark, err := p.store.GetState(ctx, storage.StateMaxItemIDSeen)
	if err != nil {
		p.fail(ctx, &res, fmt.Errorf("failed to read watermark: %w", err), nil)
		return p.finish(ctx, &res, start)
	}

	liveMax, err := p.client.MaxItemID(ctx)
	if err != nil {
		p.fail(ctx, &res, fmt.Errorf("failed to fetch live max id: %w", err), nil)
		return p.finish(ctx, &res, start)
	}

	if watermark == 0 {
		// Cold start: do not crawl the full history, begin a bounded
		// backlog behind the live head.
		watermark = liveMax - p.opts.ColdStartBacklog
		if watermark < 0 {
			watermark = 0
		}
		p.log.Info("cold start, seeding watermark", "watermark", watermark, "live_max", liveMax)
	}

	if liveMax <= watermark {
		p.log.Debug("no new items", "watermark", watermark, "live_max", liveMax)
		return p.finish(ctx, &res, start)
	}

	ids := make([]int64, 0, liveMax-watermark)
	for id := watermark + 1; id <= liveMax; id++ {
		ids = append(ids, id)
	}
	batches, err := Chunk(ids, p.opts.BatchSize)
	if err != nil {
		p.fail(ctx, &res, err, nil)
		return p.finish(ctx, &res, start)
	}

	// The front page feed only enriches snapshot decisions; its failure
	// must not lose the discovery sweep.
	frontPage := make(map[int64]bool)
	if topIDs, err := p.client.TopStories(ctx); err != nil {
		p.log.Warn("failed to fetch front page, proceeding without flags", "error", err)
	} else {
		for _, id := range topIDs {
			frontPage[id] = true
		}
	}

	// Once any batch fails the watermark is frozen for the rest of the
	// run; later batches still archive, but their ids stay unseen until a
	// clean pass covers the failed range.
	advance := true
	for _, batch := range batches {
		batchMax := batch[len(batch)-1]
		errCtx := map[string]string{
			"failed_id_range": fmt.Sprintf("%d-%d", batch[0], batchMax),
		}

		items, failed := p.client.ItemsBatch(ctx, batch)
		if failed > 0 {
			advance = false
			p.fail(ctx, &res, fmt.Errorf("failed to fetch %d of %d items", failed, len(batch)), errCtx)
		}
		enriched := make([]types.EnrichedItem, len(items))
		for i, it := range items {
			enriched[i] = types.EnrichedItem{Item: it, IsFrontPage: frontPage[it.ID]}
		}

		result, err := p.store.UpsertItems(ctx, enriched)
		if err != nil {
			advance = false
			p.fail(ctx, &res, fmt.Errorf("failed to upsert discovery batch: %w", err), errCtx)
			continue
		}
		res.ItemsProcessed += result.Processed
		res.ItemsChanged += result.Changed

		n, err := p.store.InsertSnapshots(ctx, result.Snapshots)
		if err != nil {
			advance = false
			p.fail(ctx, &res, fmt.Errorf("failed to insert discovery snapshots: %w", err), errCtx)
			continue
		}
		res.SnapshotsCreated += n
		p.bumpArchivedToday(ctx, result.Processed)

		// Gaps and dead ids inside the batch are fine: every id up to
		// batchMax was attempted, so the watermark can cover them all.
		if advance {
			if err := p.store.SetState(ctx, storage.StateMaxItemIDSeen, batchMax); err != nil {
				advance = false
				p.fail(ctx, &res, fmt.Errorf("failed to advance watermark: %w", err), errCtx)
			}
		}

		if ctx.Err() != nil {
			p.fail(ctx, &res, ctx.Err(), errCtx)
			break
		}
	}

	return p.finish(ctx, &res, start)
}
