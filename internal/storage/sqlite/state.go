package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// GetState reads one pipeline-coordination key. Absent keys read as zero so
// cold starts need no seeding.
func (s *Store) GetState(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM worker_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, nil
}

// SetState upserts one pipeline-coordination key.
func (s *Store) SetState(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.nowMillis())
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}
