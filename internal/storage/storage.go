// Package storage defines the interface for the archiver's persistence
// layer. The store exclusively owns all persisted state: items, snapshots,
// pipeline coordination keys, usage counters, error logs, and metrics.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hnfoundry/hnarchive/internal/types"
)

// ErrCacheMiss is returned by GetAnalyticsCache when the key is absent.
var ErrCacheMiss = errors.New("analytics cache miss")

// State keys used for pipeline coordination.
const (
	StateMaxItemIDSeen      = "max_item_id_seen"
	StateLastUpdatesCheck   = "last_updates_check"
	StateLastDiscoveryRun   = "last_discovery_run"
	StateLastBackfillRun    = "last_backfill_run"
	StateItemsArchivedToday = "items_archived_today"
	StateErrorsToday        = "errors_today"
)

// Usage counter keys. The date-scoped ones take a suffix from the keys
// below; embeddings_stored_total is a single monotone counter.
const KeyEmbeddingsStoredTotal = "embeddings_stored_total"

// VectorizeDayKey returns the per-day Vectorize query counter key.
func VectorizeDayKey(t time.Time) string {
	return "vectorize_queries_" + t.UTC().Format("2006-01-02")
}

// VectorizeMonthKey returns the per-month Vectorize query counter key.
func VectorizeMonthKey(t time.Time) string {
	return "vectorize_queries_" + t.UTC().Format("2006-01")
}

// D1ReadsDayKey returns the per-day read counter key.
func D1ReadsDayKey(t time.Time) string {
	return "d1_reads_" + t.UTC().Format("2006-01-02")
}

// StaleFilter selects high-value items that have not been re-fetched
// recently. Zero values take the configured defaults.
type StaleFilter struct {
	Threshold      time.Duration // age of last_updated_at, default 24h
	MinScore       int64         // default 50
	MinDescendants int64         // default 20
	Limit          int           // default 100
}

// CleanupStats reports what the retention pass removed.
type CleanupStats struct {
	ErrorLogsPurged     int64
	MetricsPurged       int64
	UsageCountersPurged int64
}

// Store is the persistence interface shared by the pipelines and the HTTP
// frontdoor. Implementations must make UpsertItems atomic per batch: if the
// transaction fails no item in the batch is written.
type Store interface {
	// Items.
	UpsertItems(ctx context.Context, items []types.EnrichedItem) (types.UpsertResult, error)
	GetItem(ctx context.Context, id int64) (*types.Item, error)
	StaleItemIDs(ctx context.Context, f StaleFilter) ([]int64, error)
	RecentlyUpdated(ctx context.Context, ids []int64, window time.Duration) ([]int64, error)

	// Snapshots.
	InsertSnapshots(ctx context.Context, snaps []types.Snapshot) (int, error)
	SnapshotsForItem(ctx context.Context, itemID int64, limit int) ([]types.Snapshot, error)

	// Pipeline state.
	GetState(ctx context.Context, key string) (int64, error)
	SetState(ctx context.Context, key string, value int64) error

	// Enrichment.
	StoriesNeedingAnalysis(ctx context.Context, limit int) ([]types.Item, error)
	StoriesNeedingEmbeddings(ctx context.Context, limit int) ([]types.Item, error)
	SaveAnalyses(ctx context.Context, results map[int64]types.Analysis) error
	MarkEmbedded(ctx context.Context, ids []int64) error

	// Budget and usage. IncrementUsage never fails the caller: storage
	// errors are swallowed and logged.
	IncrementUsage(ctx context.Context, key string, delta int64)
	UsageStats(ctx context.Context) (types.UsageStats, error)
	CheckBudget(ctx context.Context, op types.BudgetOp) (types.BudgetDecision, error)

	// Observability rows.
	LogError(ctx context.Context, pipeline, message string, errCtx map[string]string) error
	RecordWorkerMetrics(ctx context.Context, m types.WorkerMetrics) error

	// Analytics.
	SetAnalyticsCache(ctx context.Context, key string, payload []byte) error
	GetAnalyticsCache(ctx context.Context, key string) ([]byte, int64, error)
	TopStoriesSince(ctx context.Context, since time.Time, limit int) ([]types.Item, error)
	TopicCounts(ctx context.Context) (map[string]int64, error)
	SentimentByTopic(ctx context.Context) (map[string]float64, error)

	// Retention.
	Cleanup(ctx context.Context) (CleanupStats, error)

	Close() error
}
