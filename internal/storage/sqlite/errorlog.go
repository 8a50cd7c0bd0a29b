package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

const (
	maxErrorMessageLen = 500
	maxContextValueLen = 200
)

// truncate clips s to at most n bytes without splitting a rune, so stored
// text stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// LogError appends an error row and bumps the daily error counter. The
// counter resets to 1 when its stored updated-at is older than the current
// calendar day's start. Stack traces are never persisted.
func (s *Store) LogError(ctx context.Context, pipeline, message string, errCtx map[string]string) error {
	now := s.now()
	nowMS := now.UnixMilli()

	clipped := make(map[string]string, len(errCtx))
	for k, v := range errCtx {
		clipped[k] = truncate(v, maxContextValueLen)
	}
	ctxJSON, err := json.Marshal(clipped)
	if err != nil {
		ctxJSON = []byte("{}")
	}

	conn, cleanup, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer cleanup(&committed)

	_, err = conn.ExecContext(ctx, `
		INSERT INTO error_log (created_at, pipeline, message, context)
		VALUES (?, ?, ?, ?)
	`, nowMS, pipeline, truncate(message, maxErrorMessageLen), string(ctxJSON))
	if err != nil {
		return fmt.Errorf("failed to insert error log: %w", err)
	}

	// Reset-or-increment errors_today atomically with the insert.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()
	var updatedAt int64
	err = conn.QueryRowContext(ctx,
		`SELECT updated_at FROM worker_state WHERE key = ?`, storage.StateErrorsToday).Scan(&updatedAt)
	switch {
	case err == sql.ErrNoRows || updatedAt < dayStart:
		_, err = conn.ExecContext(ctx, `
			INSERT INTO worker_state (key, value, updated_at) VALUES (?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET value = 1, updated_at = excluded.updated_at
		`, storage.StateErrorsToday, nowMS)
	case err == nil:
		_, err = conn.ExecContext(ctx, `
			UPDATE worker_state SET value = value + 1, updated_at = ? WHERE key = ?
		`, nowMS, storage.StateErrorsToday)
	}
	if err != nil {
		return fmt.Errorf("failed to bump daily error counter: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit error log: %w", err)
	}
	committed = true
	return nil
}
