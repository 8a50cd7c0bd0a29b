package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
)

const storageScopeName = "github.com/hnfoundry/hnarchive/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in hnarchive.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("hnarchive.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("hnarchive.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("hnarchive.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) UpsertItems(ctx context.Context, items []types.EnrichedItem) (types.UpsertResult, error) {
	ctx, span, start := s.op(ctx, "UpsertItems", attribute.Int("batch.size", len(items)))
	res, err := s.inner.UpsertItems(ctx, items)
	s.done(ctx, span, start, err,
		attribute.Int("items.changed", res.Changed),
		attribute.Int("snapshots.emitted", len(res.Snapshots)))
	return res, err
}

func (s *InstrumentedStore) GetItem(ctx context.Context, id int64) (*types.Item, error) {
	ctx, span, start := s.op(ctx, "GetItem", attribute.Int64("item.id", id))
	item, err := s.inner.GetItem(ctx, id)
	s.done(ctx, span, start, err)
	return item, err
}

func (s *InstrumentedStore) StaleItemIDs(ctx context.Context, f storage.StaleFilter) ([]int64, error) {
	ctx, span, start := s.op(ctx, "StaleItemIDs")
	ids, err := s.inner.StaleItemIDs(ctx, f)
	s.done(ctx, span, start, err, attribute.Int("result.count", len(ids)))
	return ids, err
}

func (s *InstrumentedStore) RecentlyUpdated(ctx context.Context, ids []int64, window time.Duration) ([]int64, error) {
	ctx, span, start := s.op(ctx, "RecentlyUpdated", attribute.Int("batch.size", len(ids)))
	out, err := s.inner.RecentlyUpdated(ctx, ids, window)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStore) InsertSnapshots(ctx context.Context, snaps []types.Snapshot) (int, error) {
	ctx, span, start := s.op(ctx, "InsertSnapshots", attribute.Int("batch.size", len(snaps)))
	n, err := s.inner.InsertSnapshots(ctx, snaps)
	s.done(ctx, span, start, err)
	return n, err
}

func (s *InstrumentedStore) SnapshotsForItem(ctx context.Context, itemID int64, limit int) ([]types.Snapshot, error) {
	ctx, span, start := s.op(ctx, "SnapshotsForItem", attribute.Int64("item.id", itemID))
	snaps, err := s.inner.SnapshotsForItem(ctx, itemID, limit)
	s.done(ctx, span, start, err)
	return snaps, err
}

func (s *InstrumentedStore) GetState(ctx context.Context, key string) (int64, error) {
	ctx, span, start := s.op(ctx, "GetState", attribute.String("state.key", key))
	v, err := s.inner.GetState(ctx, key)
	s.done(ctx, span, start, err)
	return v, err
}

func (s *InstrumentedStore) SetState(ctx context.Context, key string, value int64) error {
	ctx, span, start := s.op(ctx, "SetState", attribute.String("state.key", key))
	err := s.inner.SetState(ctx, key, value)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) StoriesNeedingAnalysis(ctx context.Context, limit int) ([]types.Item, error) {
	ctx, span, start := s.op(ctx, "StoriesNeedingAnalysis")
	items, err := s.inner.StoriesNeedingAnalysis(ctx, limit)
	s.done(ctx, span, start, err, attribute.Int("result.count", len(items)))
	return items, err
}

func (s *InstrumentedStore) StoriesNeedingEmbeddings(ctx context.Context, limit int) ([]types.Item, error) {
	ctx, span, start := s.op(ctx, "StoriesNeedingEmbeddings")
	items, err := s.inner.StoriesNeedingEmbeddings(ctx, limit)
	s.done(ctx, span, start, err, attribute.Int("result.count", len(items)))
	return items, err
}

func (s *InstrumentedStore) SaveAnalyses(ctx context.Context, results map[int64]types.Analysis) error {
	ctx, span, start := s.op(ctx, "SaveAnalyses", attribute.Int("batch.size", len(results)))
	err := s.inner.SaveAnalyses(ctx, results)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) MarkEmbedded(ctx context.Context, ids []int64) error {
	ctx, span, start := s.op(ctx, "MarkEmbedded", attribute.Int("batch.size", len(ids)))
	err := s.inner.MarkEmbedded(ctx, ids)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) IncrementUsage(ctx context.Context, key string, delta int64) {
	ctx, span, start := s.op(ctx, "IncrementUsage", attribute.String("usage.key", key))
	s.inner.IncrementUsage(ctx, key, delta)
	s.done(ctx, span, start, nil)
}

func (s *InstrumentedStore) UsageStats(ctx context.Context) (types.UsageStats, error) {
	ctx, span, start := s.op(ctx, "UsageStats")
	stats, err := s.inner.UsageStats(ctx)
	s.done(ctx, span, start, err)
	return stats, err
}

func (s *InstrumentedStore) CheckBudget(ctx context.Context, op types.BudgetOp) (types.BudgetDecision, error) {
	ctx, span, start := s.op(ctx, "CheckBudget", attribute.String("budget.op", string(op)))
	d, err := s.inner.CheckBudget(ctx, op)
	s.done(ctx, span, start, err, attribute.Bool("budget.allowed", d.Allowed))
	return d, err
}

func (s *InstrumentedStore) LogError(ctx context.Context, pipeline, message string, errCtx map[string]string) error {
	ctx, span, start := s.op(ctx, "LogError", attribute.String("pipeline", pipeline))
	err := s.inner.LogError(ctx, pipeline, message, errCtx)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) RecordWorkerMetrics(ctx context.Context, m types.WorkerMetrics) error {
	ctx, span, start := s.op(ctx, "RecordWorkerMetrics", attribute.String("pipeline", m.Pipeline))
	err := s.inner.RecordWorkerMetrics(ctx, m)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) SetAnalyticsCache(ctx context.Context, key string, payload []byte) error {
	ctx, span, start := s.op(ctx, "SetAnalyticsCache", attribute.String("cache.key", key))
	err := s.inner.SetAnalyticsCache(ctx, key, payload)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) GetAnalyticsCache(ctx context.Context, key string) ([]byte, int64, error) {
	ctx, span, start := s.op(ctx, "GetAnalyticsCache", attribute.String("cache.key", key))
	payload, computedAt, err := s.inner.GetAnalyticsCache(ctx, key)
	if err == storage.ErrCacheMiss {
		// A miss is the normal cold path, not an error worth a red span.
		s.done(ctx, span, start, nil, attribute.Bool("cache.miss", true))
		return payload, computedAt, err
	}
	s.done(ctx, span, start, err)
	return payload, computedAt, err
}

func (s *InstrumentedStore) TopStoriesSince(ctx context.Context, since time.Time, limit int) ([]types.Item, error) {
	ctx, span, start := s.op(ctx, "TopStoriesSince")
	items, err := s.inner.TopStoriesSince(ctx, since, limit)
	s.done(ctx, span, start, err, attribute.Int("result.count", len(items)))
	return items, err
}

func (s *InstrumentedStore) TopicCounts(ctx context.Context) (map[string]int64, error) {
	ctx, span, start := s.op(ctx, "TopicCounts")
	counts, err := s.inner.TopicCounts(ctx)
	s.done(ctx, span, start, err)
	return counts, err
}

func (s *InstrumentedStore) SentimentByTopic(ctx context.Context) (map[string]float64, error) {
	ctx, span, start := s.op(ctx, "SentimentByTopic")
	avgs, err := s.inner.SentimentByTopic(ctx)
	s.done(ctx, span, start, err)
	return avgs, err
}

func (s *InstrumentedStore) Cleanup(ctx context.Context) (storage.CleanupStats, error) {
	ctx, span, start := s.op(ctx, "Cleanup")
	stats, err := s.inner.Cleanup(ctx)
	s.done(ctx, span, start, err,
		attribute.Int64("purged.error_logs", stats.ErrorLogsPurged),
		attribute.Int64("purged.metrics", stats.MetricsPurged),
		attribute.Int64("purged.usage_counters", stats.UsageCountersPurged))
	return stats, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
