package sqlite

import (
	"context"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/types"
)

// StoriesNeedingAnalysis returns live, titled stories that have never been
// classified, most recently first-seen first.
func (s *Store) StoriesNeedingAnalysis(ctx context.Context, limit int) ([]types.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE ai_analyzed_at IS NULL
		  AND title IS NOT NULL
		  AND deleted = 0
		  AND kind = 'story'
		ORDER BY first_seen_at DESC
		LIMIT ?
	`, itemColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories needing analysis: %w", err)
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

// StoriesNeedingEmbeddings returns analyzed stories that have no stored
// vector yet.
func (s *Store) StoriesNeedingEmbeddings(ctx context.Context, limit int) ([]types.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE ai_analyzed_at IS NOT NULL
		  AND embedding_generated_at IS NULL
		  AND deleted = 0
		ORDER BY first_seen_at DESC
		LIMIT ?
	`, itemColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories needing embeddings: %w", err)
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

// SaveAnalyses writes classification results as a single batched update.
func (s *Store) SaveAnalyses(ctx context.Context, results map[int64]types.Analysis) error {
	if len(results) == 0 {
		return nil
	}
	now := s.nowMillis()

	conn, cleanup, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer cleanup(&committed)

	stmt, err := conn.PrepareContext(ctx, `
		UPDATE items SET ai_topic = ?, ai_content_type = ?, ai_sentiment = ?, ai_analyzed_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare analysis update: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for id, a := range results {
		if _, err := stmt.ExecContext(ctx, a.Topic, a.ContentType, a.Sentiment, now, id); err != nil {
			return fmt.Errorf("failed to save analysis for item %d: %w", id, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit analyses: %w", err)
	}
	committed = true
	return nil
}

// MarkEmbedded stamps embedding_generated_at for the successful subset.
func (s *Store) MarkEmbedded(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.nowMillis()
	for _, chunk := range chunkIDs(ids, inChunk) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, now)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := fmt.Sprintf(
			"UPDATE items SET embedding_generated_at = ? WHERE id IN (%s)",
			placeholders(len(chunk)))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to mark items embedded: %w", err)
		}
	}
	return nil
}
