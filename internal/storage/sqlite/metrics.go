package sqlite

import (
	"context"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/types"
)

// RecordWorkerMetrics appends one row per pipeline execution.
func (s *Store) RecordWorkerMetrics(ctx context.Context, m types.WorkerMetrics) error {
	createdAt := m.CreatedAt
	if createdAt <= 0 {
		createdAt = s.nowMillis()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_metrics (created_at, pipeline, items_processed, items_changed, snapshots_created, duration_ms, error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, createdAt, m.Pipeline, m.ItemsProcessed, m.ItemsChanged, m.SnapshotsCreated, m.DurationMS, m.ErrorCount)
	if err != nil {
		return fmt.Errorf("failed to record worker metrics: %w", err)
	}
	return nil
}
