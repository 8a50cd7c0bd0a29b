package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
)

// IncrementUsage upsert-adds delta to a usage counter. Errors are swallowed
// and logged: budget tracking must never block a pipeline.
func (s *Store) IncrementUsage(ctx context.Context, key string, delta int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at
	`, key, delta, s.nowMillis())
	if err != nil {
		s.log.Warn("usage counter increment failed", "key", key, "error", err)
	}
}

// usageValue reads one counter; absent keys read as zero.
func (s *Store) usageValue(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM usage_counters WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage counter %q: %w", key, err)
	}
	return value, nil
}

// UsageStats reads today / this-month / total counters in one pass.
func (s *Store) UsageStats(ctx context.Context) (types.UsageStats, error) {
	now := s.now()
	var (
		stats types.UsageStats
		err   error
	)
	if stats.VectorizeQueriesToday, err = s.usageValue(ctx, storage.VectorizeDayKey(now)); err != nil {
		return types.UsageStats{}, err
	}
	if stats.VectorizeQueriesThisMonth, err = s.usageValue(ctx, storage.VectorizeMonthKey(now)); err != nil {
		return types.UsageStats{}, err
	}
	if stats.EmbeddingsStoredTotal, err = s.usageValue(ctx, storage.KeyEmbeddingsStoredTotal); err != nil {
		return types.UsageStats{}, err
	}
	if stats.D1ReadsToday, err = s.usageValue(ctx, storage.D1ReadsDayKey(now)); err != nil {
		return types.UsageStats{}, err
	}
	return stats, nil
}

// CheckBudget gates budget-guarded operations. The comparison is >=: hitting
// the configured limit exactly denies the operation.
func (s *Store) CheckBudget(ctx context.Context, op types.BudgetOp) (types.BudgetDecision, error) {
	switch op {
	case types.OpVectorizeQuery:
		today, err := s.usageValue(ctx, storage.VectorizeDayKey(s.now()))
		if err != nil {
			return types.BudgetDecision{}, err
		}
		if today >= s.limits.VectorizeDaily {
			return types.BudgetDecision{
				Allowed: false,
				Reason:  fmt.Sprintf("Daily query limit reached (%d/%d)", today, s.limits.VectorizeDaily),
			}, nil
		}
		return types.BudgetDecision{Allowed: true}, nil

	case types.OpEmbeddingBackfill:
		total, err := s.usageValue(ctx, storage.KeyEmbeddingsStoredTotal)
		if err != nil {
			return types.BudgetDecision{}, err
		}
		if total >= s.limits.EmbeddingsTotal {
			return types.BudgetDecision{
				Allowed: false,
				Reason:  fmt.Sprintf("Embedding storage limit reached (%d/%d)", total, s.limits.EmbeddingsTotal),
			}, nil
		}
		return types.BudgetDecision{Allowed: true}, nil

	default:
		return types.BudgetDecision{}, fmt.Errorf("unknown budget operation %q", op)
	}
}
