package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hnfoundry/hnarchive/internal/snapshot"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
)

// inChunk is the IN-predicate chunk size; SQLite's bound-parameter cap
// makes unbounded IN lists fail on large batches.
const inChunk = 50

const itemColumns = `id, kind, deleted, dead, title, url, body, author, item_time,
	score, descendants, parent, kids,
	first_seen_at, last_updated_at, last_changed_at, update_count,
	ai_topic, ai_content_type, ai_sentiment, ai_analyzed_at, embedding_generated_at`

// scanItem reads one items row. rows must expose itemColumns in order.
func scanItem(rows interface{ Scan(...any) error }) (types.Item, error) {
	var (
		it                     types.Item
		deleted, dead          int64
		title, url, body, by   sql.NullString
		score, desc, parent    sql.NullInt64
		kids                   string
		aiTopic, aiContent     sql.NullString
		aiSentiment            sql.NullFloat64
		aiAnalyzedAt, embAt    sql.NullInt64
	)
	err := rows.Scan(
		&it.ID, &it.Kind, &deleted, &dead, &title, &url, &body, &by, &it.Time,
		&score, &desc, &parent, &kids,
		&it.FirstSeenAt, &it.LastUpdatedAt, &it.LastChangedAt, &it.UpdateCount,
		&aiTopic, &aiContent, &aiSentiment, &aiAnalyzedAt, &embAt,
	)
	if err != nil {
		return types.Item{}, err
	}
	it.Deleted = deleted != 0
	it.Dead = dead != 0
	it.Title = title.String
	it.URL = url.String
	it.Text = body.String
	it.By = by.String
	if score.Valid {
		v := score.Int64
		it.Score = &v
	}
	if desc.Valid {
		v := desc.Int64
		it.Descendants = &v
	}
	if parent.Valid {
		v := parent.Int64
		it.Parent = &v
	}
	if kids != "" {
		it.Kids = parseKids(kids)
	}
	it.AITopic = aiTopic.String
	it.AIContentType = aiContent.String
	if aiSentiment.Valid {
		v := aiSentiment.Float64
		it.AISentiment = &v
	}
	if aiAnalyzedAt.Valid {
		v := aiAnalyzedAt.Int64
		it.AIAnalyzedAt = &v
	}
	if embAt.Valid {
		v := embAt.Int64
		it.EmbeddingGeneratedAt = &v
	}
	return it, nil
}

// contentChanged is the disjunction of field-wise inequality tests that
// decides whether last_changed_at advances.
func contentChanged(old *types.Item, in *types.Item) bool {
	return old.Deleted != in.Deleted ||
		old.Dead != in.Dead ||
		old.Title != in.Title ||
		old.URL != in.URL ||
		old.Text != in.Text ||
		old.ScoreValue() != in.ScoreValue() ||
		old.DescendantsValue() != in.DescendantsValue() ||
		old.KidsJSON() != in.KidsJSON() ||
		old.By != in.By ||
		old.Kind != in.Kind
}

// selectExisting loads prior rows for all input ids in chunked queries.
func (s *Store) selectExisting(ctx context.Context, q queryer, ids []int64) (map[int64]types.Item, error) {
	existing := make(map[int64]types.Item, len(ids))
	for _, chunk := range chunkIDs(ids, inChunk) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("SELECT %s FROM items WHERE id IN (%s)", itemColumns, placeholders(len(chunk)))
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to select existing items: %w", err)
		}
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan existing item: %w", err)
			}
			existing[it.ID] = it
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return existing, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// UpsertItems writes a batch of enriched items in a single IMMEDIATE
// transaction. For each input it computes whether content actually changed,
// advances the temporal bookkeeping accordingly, and consults the snapshot
// policy. If the transaction fails, no item in the batch is written and no
// snapshot is emitted.
func (s *Store) UpsertItems(ctx context.Context, items []types.EnrichedItem) (types.UpsertResult, error) {
	if len(items) == 0 {
		return types.UpsertResult{}, nil
	}

	now := s.nowMillis()
	ids := make([]int64, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	conn, cleanup, err := s.beginImmediate(ctx)
	if err != nil {
		return types.UpsertResult{}, err
	}
	committed := false
	defer cleanup(&committed)

	existing, err := s.selectExisting(ctx, conn, ids)
	if err != nil {
		return types.UpsertResult{}, err
	}

	insertStmt, err := conn.PrepareContext(ctx, `
		INSERT INTO items (
			id, kind, deleted, dead, title, url, body, author, item_time,
			score, descendants, parent, kids,
			first_seen_at, last_updated_at, last_changed_at, update_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`)
	if err != nil {
		return types.UpsertResult{}, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	updateStmt, err := conn.PrepareContext(ctx, `
		UPDATE items SET
			kind = ?, deleted = ?, dead = ?, title = ?, url = ?, body = ?, author = ?,
			item_time = ?, score = ?, descendants = ?, parent = ?, kids = ?,
			last_updated_at = ?, last_changed_at = ?, update_count = update_count + 1
		WHERE id = ?
	`)
	if err != nil {
		return types.UpsertResult{}, fmt.Errorf("failed to prepare update: %w", err)
	}
	defer func() { _ = updateStmt.Close() }()

	var result types.UpsertResult
	for i := range items {
		in := &items[i]

		// Keep the positive-creation-time invariant even for junk payloads.
		itemTime := in.Time
		if itemTime <= 0 {
			itemTime = now / 1000
		}

		old, exists := existing[in.ID]
		var (
			changed     bool
			updateCount int64
			oldRef      *types.Item
		)
		if exists {
			oldRef = &old
			changed = contentChanged(&old, &in.Item)
			updateCount = old.UpdateCount + 1 // observations, not changes

			lastChanged := old.LastChangedAt
			if changed {
				lastChanged = now
			}
			_, err = updateStmt.ExecContext(ctx,
				string(in.Kind), boolInt(in.Deleted), boolInt(in.Dead),
				nullStr(in.Title), nullStr(in.URL), nullStr(in.Text), nullStr(in.By),
				itemTime, in.Score, in.Descendants, in.Parent, in.KidsJSON(),
				now, lastChanged, in.ID,
			)
			if err != nil {
				return types.UpsertResult{}, fmt.Errorf("failed to update item %d: %w", in.ID, err)
			}
		} else {
			changed = true
			_, err = insertStmt.ExecContext(ctx,
				in.ID, string(in.Kind), boolInt(in.Deleted), boolInt(in.Dead),
				nullStr(in.Title), nullStr(in.URL), nullStr(in.Text), nullStr(in.By),
				itemTime, in.Score, in.Descendants, in.Parent, in.KidsJSON(),
				now, now, now,
			)
			if err != nil {
				return types.UpsertResult{}, fmt.Errorf("failed to insert item %d: %w", in.ID, err)
			}
		}

		result.Processed++
		if exists && changed {
			result.Changed++
		} else if !exists {
			result.Changed++
		}

		decision := snapshot.Decide(oldRef, *in, updateCount, changed)
		if decision.Emit {
			result.Snapshots = append(result.Snapshots, types.Snapshot{
				ItemID:      in.ID,
				CapturedAt:  now,
				Score:       in.Score,
				Descendants: in.Descendants,
				Reason:      decision.Reason,
			})
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return types.UpsertResult{}, fmt.Errorf("failed to commit item batch: %w", err)
	}
	committed = true
	return result, nil
}

// GetItem returns the stored row for id, or nil when absent.
func (s *Store) GetItem(ctx context.Context, id int64) (*types.Item, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM items WHERE id = ?", itemColumns), id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return &it, nil
}

// StaleItemIDs returns high-value items not re-fetched within the
// threshold, ordered by descendants desc, score desc, oldest-updated first.
func (s *Store) StaleItemIDs(ctx context.Context, f storage.StaleFilter) ([]int64, error) {
	if f.Threshold <= 0 {
		f.Threshold = 24 * time.Hour
	}
	if f.MinScore <= 0 {
		f.MinScore = 50
	}
	if f.MinDescendants <= 0 {
		f.MinDescendants = 20
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	cutoff := s.nowMillis() - f.Threshold.Milliseconds()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM items
		WHERE last_updated_at < ?
		  AND deleted = 0
		  AND (score > ? OR descendants > ?)
		ORDER BY descendants DESC, score DESC, last_updated_at ASC
		LIMIT ?
	`, cutoff, f.MinScore, f.MinDescendants, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentlyUpdated returns the subset of ids whose last_updated_at is within
// the window. The IN predicate is chunked to respect the parameter cap.
func (s *Store) RecentlyUpdated(ctx context.Context, ids []int64, window time.Duration) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	cutoff := s.nowMillis() - window.Milliseconds()

	var recent []int64
	for _, chunk := range chunkIDs(ids, inChunk) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, cutoff)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := fmt.Sprintf(
			"SELECT id FROM items WHERE last_updated_at >= ? AND id IN (%s)",
			placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query recently updated: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			recent = append(recent, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return recent, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullStr maps "" to NULL so optional text fields stay NULL-able.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
