package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

// Retention windows applied by the long-tick cleanup pass.
const (
	errorLogRetention     = 7 * 24 * time.Hour
	metricsRetention      = 30 * 24 * time.Hour
	usageCounterRetention = 90 * 24 * time.Hour
)

// Cleanup purges error logs older than 7 days, worker metrics older than 30
// days, and date-scoped usage counters untouched for 90 days. The
// embeddings_stored_total counter is monotone and never purged.
func (s *Store) Cleanup(ctx context.Context) (storage.CleanupStats, error) {
	now := s.nowMillis()
	var stats storage.CleanupStats

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM error_log WHERE created_at < ?`, now-errorLogRetention.Milliseconds())
	if err != nil {
		return stats, fmt.Errorf("failed to purge error log: %w", err)
	}
	stats.ErrorLogsPurged, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM worker_metrics WHERE created_at < ?`, now-metricsRetention.Milliseconds())
	if err != nil {
		return stats, fmt.Errorf("failed to purge worker metrics: %w", err)
	}
	stats.MetricsPurged, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM usage_counters
		WHERE updated_at < ?
		  AND (key LIKE 'vectorize_queries_%' OR key LIKE 'd1_reads_%')
	`, now-usageCounterRetention.Milliseconds())
	if err != nil {
		return stats, fmt.Errorf("failed to purge usage counters: %w", err)
	}
	stats.UsageCountersPurged, _ = res.RowsAffected()

	return stats, nil
}
