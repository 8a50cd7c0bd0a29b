package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
)

// SetAnalyticsCache overwrites the keyed JSON blob with a fresh computed-at.
func (s *Store) SetAnalyticsCache(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_cache (key, payload, computed_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, computed_at = excluded.computed_at
	`, key, string(payload), s.nowMillis())
	if err != nil {
		return fmt.Errorf("failed to write analytics cache %q: %w", key, err)
	}
	return nil
}

// GetAnalyticsCache returns the blob and its computed-at timestamp, or
// storage.ErrCacheMiss when absent.
func (s *Store) GetAnalyticsCache(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		payload    string
		computedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, computed_at FROM analytics_cache WHERE key = ?`, key).
		Scan(&payload, &computedAt)
	if err == sql.ErrNoRows {
		return nil, 0, storage.ErrCacheMiss
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read analytics cache %q: %w", key, err)
	}
	return []byte(payload), computedAt, nil
}

// TopStoriesSince returns the highest-scored live stories first seen after
// since.
func (s *Store) TopStoriesSince(ctx context.Context, since time.Time, limit int) ([]types.Item, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE kind = 'story' AND deleted = 0 AND dead = 0 AND first_seen_at >= ?
		ORDER BY score DESC, descendants DESC
		LIMIT ?
	`, itemColumns), since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SentimentByTopic returns the average sentiment per AI-assigned topic,
// over analyzed live stories.
func (s *Store) SentimentByTopic(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ai_topic, AVG(ai_sentiment) FROM items
		WHERE ai_topic IS NOT NULL AND ai_sentiment IS NOT NULL AND deleted = 0
		GROUP BY ai_topic
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment by topic: %w", err)
	}
	defer func() { _ = rows.Close() }()

	avgs := make(map[string]float64)
	for rows.Next() {
		var (
			topic string
			avg   float64
		)
		if err := rows.Scan(&topic, &avg); err != nil {
			return nil, err
		}
		avgs[topic] = avg
	}
	return avgs, rows.Err()
}

// TopicCounts returns story counts per AI-assigned topic.
func (s *Store) TopicCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ai_topic, COUNT(*) FROM items
		WHERE ai_topic IS NOT NULL AND deleted = 0
		GROUP BY ai_topic
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			topic string
			n     int64
		)
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, err
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}
