package sqlite

import (
	"context"
	"fmt"

	"github.com/hnfoundry/hnarchive/internal/types"
)

// InsertSnapshots bulk-inserts the accumulated snapshots in one transaction
// with a shared captured_at. Empty input is a no-op. Returns the number of
// rows written.
func (s *Store) InsertSnapshots(ctx context.Context, snaps []types.Snapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	now := s.nowMillis()

	conn, cleanup, err := s.beginImmediate(ctx)
	if err != nil {
		return 0, err
	}
	committed := false
	defer cleanup(&committed)

	stmt, err := conn.PrepareContext(ctx, `
		INSERT INTO snapshots (item_id, captured_at, score, descendants, reason)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, snap := range snaps {
		capturedAt := snap.CapturedAt
		if capturedAt <= 0 {
			capturedAt = now
		}
		if _, err := stmt.ExecContext(ctx, snap.ItemID, capturedAt, snap.Score, snap.Descendants, string(snap.Reason)); err != nil {
			return 0, fmt.Errorf("failed to insert snapshot for item %d: %w", snap.ItemID, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, fmt.Errorf("failed to commit snapshots: %w", err)
	}
	committed = true
	return len(snaps), nil
}

// SnapshotsForItem returns the most recent snapshots for one item, newest
// first.
func (s *Store) SnapshotsForItem(ctx context.Context, itemID int64, limit int) ([]types.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, captured_at, score, descendants, reason
		FROM snapshots WHERE item_id = ?
		ORDER BY captured_at DESC LIMIT ?
	`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for item %d: %w", itemID, err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []types.Snapshot
	for rows.Next() {
		var snap types.Snapshot
		if err := rows.Scan(&snap.ID, &snap.ItemID, &snap.CapturedAt, &snap.Score, &snap.Descendants, &snap.Reason); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
