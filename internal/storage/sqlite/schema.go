package sqlite

const schema = `
-- Items table: one row per upstream entity, latest state only.
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL CHECK(kind IN ('story','comment','job','poll','pollopt')),
    deleted INTEGER NOT NULL DEFAULT 0,
    dead INTEGER NOT NULL DEFAULT 0,
    title TEXT,
    url TEXT,
    body TEXT,
    author TEXT,
    item_time INTEGER NOT NULL CHECK(item_time > 0),
    score INTEGER,
    descendants INTEGER,
    parent INTEGER,
    kids TEXT NOT NULL DEFAULT '',
    first_seen_at INTEGER NOT NULL CHECK(first_seen_at > 0),
    last_updated_at INTEGER NOT NULL,
    last_changed_at INTEGER NOT NULL,
    update_count INTEGER NOT NULL DEFAULT 0,
    ai_topic TEXT,
    ai_content_type TEXT,
    ai_sentiment REAL CHECK(ai_sentiment IS NULL OR (ai_sentiment >= 0.0 AND ai_sentiment <= 1.0)),
    ai_analyzed_at INTEGER,
    embedding_generated_at INTEGER,
    CHECK (last_updated_at >= first_seen_at),
    CHECK (last_changed_at >= first_seen_at)
);

CREATE INDEX IF NOT EXISTS idx_items_last_updated ON items(last_updated_at);
CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind);
CREATE INDEX IF NOT EXISTS idx_items_score ON items(score);
CREATE INDEX IF NOT EXISTS idx_items_needs_analysis ON items(ai_analyzed_at) WHERE ai_analyzed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_items_needs_embedding ON items(embedding_generated_at) WHERE embedding_generated_at IS NULL;

-- Snapshots: append-only time series of selective observations.
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    captured_at INTEGER NOT NULL,
    score INTEGER,
    descendants INTEGER,
    reason TEXT NOT NULL CHECK(reason IN ('score_spike','front_page','sample','new_item'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_item ON snapshots(item_id, captured_at);

-- Key-value integers for pipeline coordination.
CREATE TABLE IF NOT EXISTS worker_state (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Key-value integers, upserted by adding. Keys carry date suffixes.
CREATE TABLE IF NOT EXISTS usage_counters (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Append-only error rows. Messages and context values are truncated on
-- write; stack traces are never persisted.
CREATE TABLE IF NOT EXISTS error_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at INTEGER NOT NULL,
    pipeline TEXT NOT NULL,
    message TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_error_log_created ON error_log(created_at);

-- One row per pipeline execution.
CREATE TABLE IF NOT EXISTS worker_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at INTEGER NOT NULL,
    pipeline TEXT NOT NULL,
    items_processed INTEGER NOT NULL DEFAULT 0,
    items_changed INTEGER NOT NULL DEFAULT 0,
    snapshots_created INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_worker_metrics_created ON worker_metrics(created_at);

-- Keyed JSON blobs, overwritten on recompute.
CREATE TABLE IF NOT EXISTS analytics_cache (
    key TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    computed_at INTEGER NOT NULL
);
`
