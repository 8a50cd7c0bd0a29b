// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

// Verify the interface at compile time.
var _ storage.Store = (*Store)(nil)

// BudgetLimits configures the hard caps the budget check enforces.
type BudgetLimits struct {
	VectorizeDaily  int64 // default 1500 queries per day
	EmbeddingsTotal int64 // default 10000 vectors stored, ever
}

// Options tunes a Store. Zero values take defaults; Clock is injectable so
// tests control the temporal bookkeeping.
type Options struct {
	Clock  func() time.Time
	Limits BudgetLimits
	Logger *slog.Logger
}

// Store is the SQLite persistence backend.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
	now    func() time.Time
	limits BudgetLimits
	log    *slog.Logger
}

// setupWASMCache configures WASM compilation caching so SQLite startup does
// not pay the JIT cost on every process start. Falls back to an in-memory
// cache when the filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "hnarchive", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New opens (or creates) the archive database at path and initializes the
// schema. ":memory:" databases get a single shared connection so tests see
// a consistent view.
func New(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Limits.VectorizeDaily <= 0 {
		opts.Limits.VectorizeDaily = 1500
	}
	if opts.Limits.EmbeddingsTotal <= 0 {
		opts.Limits.EmbeddingsTotal = 10000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var connStr string
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	switch {
	case path == ":memory:":
		// WAL mode doesn't work with in-memory databases, so use DELETE mode.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
		}
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isInMemory {
		// In-memory databases are isolated per connection by default.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; cap the pool so goroutines
		// don't pile up on write-lock contention.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &Store{
		db:     db,
		dbPath: absPath,
		now:    opts.Clock,
		limits: opts.Limits,
		log:    opts.Logger,
	}, nil
}

// Close checkpoints the WAL and closes the database. Without the checkpoint
// writes may be stranded in the WAL between process runs.
func (s *Store) Close() error {
	s.closed.Store(true)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the absolute path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// nowMillis is the single source of local time for temporal bookkeeping.
func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// beginImmediate starts an IMMEDIATE transaction on a dedicated connection,
// acquiring the write lock early to serialize concurrent writers properly.
func (s *Store) beginImmediate(ctx context.Context) (*sql.Conn, func(commit *bool), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	cleanup := func(committed *bool) {
		if !*committed {
			// Background context so rollback completes even if ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
		_ = conn.Close()
	}
	return conn, cleanup, nil
}

// chunkIDs splits ids into slices of at most n, respecting the storage
// engine's bound-parameter cap for IN predicates.
func chunkIDs(ids []int64, n int) [][]int64 {
	if n <= 0 || len(ids) == 0 {
		return nil
	}
	chunks := make([][]int64, 0, (len(ids)+n-1)/n)
	for n < len(ids) {
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return append(chunks, ids)
}

// placeholders returns "?,?,...,?" with n marks.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
