// Package scheduler drives the pipelines on their cadences: frequent
// discovery, a slower update sweep, and the long backfill tick which also
// runs data retention.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hnfoundry/hnarchive/internal/pipeline"
	"github.com/hnfoundry/hnarchive/internal/storage"
)

// Options sets the tick intervals. Zero values take the defaults.
type Options struct {
	DiscoveryInterval time.Duration // default 3m
	UpdatesInterval   time.Duration // default 10m
	BackfillInterval  time.Duration // default 2h
}

// maintenanceStore is the slice of the store the scheduler itself needs.
type maintenanceStore interface {
	LogError(ctx context.Context, pipeline, message string, errCtx map[string]string) error
	Cleanup(ctx context.Context) (storage.CleanupStats, error)
}

// Scheduler owns the pipeline tickers.
type Scheduler struct {
	pipes *pipeline.Pipelines
	store maintenanceStore
	log   *slog.Logger
	opts  Options
}

// New creates a scheduler.
func New(pipes *pipeline.Pipelines, store maintenanceStore, log *slog.Logger, opts Options) *Scheduler {
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = 3 * time.Minute
	}
	if opts.UpdatesInterval <= 0 {
		opts.UpdatesInterval = 10 * time.Minute
	}
	if opts.BackfillInterval <= 0 {
		opts.BackfillInterval = 2 * time.Hour
	}
	return &Scheduler{pipes: pipes, store: store, log: log, opts: opts}
}

// Run blocks until ctx is cancelled. Discovery runs once immediately so a
// fresh deployment starts archiving without waiting out the first tick.
func (s *Scheduler) Run(ctx context.Context) {
	discovery := time.NewTicker(s.opts.DiscoveryInterval)
	updates := time.NewTicker(s.opts.UpdatesInterval)
	backfill := time.NewTicker(s.opts.BackfillInterval)
	defer discovery.Stop()
	defer updates.Stop()
	defer backfill.Stop()

	s.safely(ctx, pipeline.NameDiscovery, func() { s.pipes.Discovery(ctx) })

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-discovery.C:
			s.safely(ctx, pipeline.NameDiscovery, func() { s.pipes.Discovery(ctx) })
		case <-updates.C:
			s.safely(ctx, pipeline.NameUpdates, func() { s.pipes.Updates(ctx) })
		case <-backfill.C:
			s.safely(ctx, pipeline.NameBackfill, func() {
				s.pipes.Backfill(ctx)
				s.cleanup(ctx)
			})
		}
	}
}

// safely runs one tick with panic recovery; a panicking pipeline must not
// take the daemon down.
func (s *Scheduler) safely(ctx context.Context, name string, run func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pipeline panicked",
				"pipeline", name,
				"panic", r,
				"stack", string(debug.Stack()))
			if err := s.store.LogError(ctx, name, "pipeline panic", map[string]string{
				"panic": toString(r),
			}); err != nil {
				s.log.Warn("failed to persist panic", "error", err)
			}
		}
	}()
	run()
}

func (s *Scheduler) cleanup(ctx context.Context) {
	stats, err := s.store.Cleanup(ctx)
	if err != nil {
		s.log.Warn("retention cleanup failed", "error", err)
		return
	}
	s.log.Info("retention cleanup done",
		"error_logs", stats.ErrorLogsPurged,
		"metrics", stats.MetricsPurged,
		"usage_counters", stats.UsageCountersPurged)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-string panic value"
}
