// Package types defines the core data structures shared across the archiver:
// upstream items, time-series snapshots, and pipeline run summaries.
package types

import (
	"encoding/json"
	"fmt"
)

// ItemKind identifies the variant of an upstream item.
type ItemKind string

const (
	KindStory   ItemKind = "story"
	KindComment ItemKind = "comment"
	KindJob     ItemKind = "job"
	KindPoll    ItemKind = "poll"
	KindPollOpt ItemKind = "pollopt"
)

// ValidKind reports whether k is one of the allowed item kinds.
func ValidKind(k ItemKind) bool {
	switch k {
	case KindStory, KindComment, KindJob, KindPoll, KindPollOpt:
		return true
	}
	return false
}

// Item is one row per upstream entity, combining the external fields with
// the archiver's local temporal bookkeeping and enrichment columns.
//
// Optional numeric fields are pointers so that "absent upstream" is
// distinguishable from zero. Times from upstream are unix seconds; all
// local timestamps (FirstSeenAt and friends) are unix milliseconds.
type Item struct {
	ID          int64    `json:"id"`
	Kind        ItemKind `json:"type"`
	Deleted     bool     `json:"deleted,omitempty"`
	Dead        bool     `json:"dead,omitempty"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url,omitempty"`
	Text        string   `json:"text,omitempty"`
	By          string   `json:"by,omitempty"`
	Time        int64    `json:"time"`
	Score       *int64   `json:"score,omitempty"`
	Descendants *int64   `json:"descendants,omitempty"`
	Parent      *int64   `json:"parent,omitempty"`
	Kids        []int64  `json:"kids,omitempty"`

	// Local bookkeeping, owned by the store.
	FirstSeenAt   int64 `json:"-"`
	LastUpdatedAt int64 `json:"-"`
	LastChangedAt int64 `json:"-"`
	UpdateCount   int64 `json:"-"`

	// Enrichment, written by the backfill pipeline.
	AITopic              string   `json:"-"`
	AIContentType        string   `json:"-"`
	AISentiment          *float64 `json:"-"`
	AIAnalyzedAt         *int64   `json:"-"`
	EmbeddingGeneratedAt *int64   `json:"-"`
}

// Validate checks the upstream-boundary invariants: present positive id,
// allowed kind, positive creation time. Malformed items must never reach
// the store.
func (it *Item) Validate() error {
	if it.ID <= 0 {
		return fmt.Errorf("item id must be positive, got %d", it.ID)
	}
	if !ValidKind(it.Kind) {
		return fmt.Errorf("item %d: unknown kind %q", it.ID, it.Kind)
	}
	if it.Time <= 0 {
		return fmt.Errorf("item %d: non-positive creation time %d", it.ID, it.Time)
	}
	return nil
}

// ScoreValue returns the score or zero when absent.
func (it *Item) ScoreValue() int64 {
	if it.Score == nil {
		return 0
	}
	return *it.Score
}

// DescendantsValue returns the descendant count or zero when absent.
func (it *Item) DescendantsValue() int64 {
	if it.Descendants == nil {
		return 0
	}
	return *it.Descendants
}

// KidsJSON serializes the ordered child-id list for storage. An empty or
// nil list serializes to the empty string so unchanged items compare equal.
func (it *Item) KidsJSON() string {
	if len(it.Kids) == 0 {
		return ""
	}
	b, err := json.Marshal(it.Kids)
	if err != nil {
		return ""
	}
	return string(b)
}

// EnrichedItem is an upstream item plus the front-page flag observed by the
// pipeline that fetched it.
type EnrichedItem struct {
	Item
	IsFrontPage bool
}

// SnapshotReason labels why the snapshot policy emitted a snapshot.
type SnapshotReason string

const (
	ReasonScoreSpike SnapshotReason = "score_spike"
	ReasonFrontPage  SnapshotReason = "front_page"
	ReasonSample     SnapshotReason = "sample"
	ReasonNewItem    SnapshotReason = "new_item"
)

// Snapshot is an append-only point-in-time observation of an item.
type Snapshot struct {
	ID          int64
	ItemID      int64
	CapturedAt  int64
	Score       *int64
	Descendants *int64
	Reason      SnapshotReason
}

// UpsertResult summarizes a batch upsert: rows touched, rows whose content
// actually changed, and the snapshots the policy decided to emit.
type UpsertResult struct {
	Processed int
	Changed   int
	Snapshots []Snapshot
}

// RunResult is the summary every pipeline run surfaces. Success is true iff
// Errors is zero and no top-level failure occurred.
type RunResult struct {
	Pipeline         string   `json:"pipeline"`
	Success          bool     `json:"success"`
	ItemsProcessed   int      `json:"items_processed"`
	ItemsChanged     int      `json:"items_changed"`
	SnapshotsCreated int      `json:"snapshots_created"`
	DurationMS       int64    `json:"duration_ms"`
	Errors           int      `json:"errors"`
	ErrorMessages    []string `json:"error_messages,omitempty"`
}

// UsageStats reports the budget counters the embedding subsystem tracks.
type UsageStats struct {
	VectorizeQueriesToday     int64 `json:"vectorize_queries_today"`
	VectorizeQueriesThisMonth int64 `json:"vectorize_queries_this_month"`
	EmbeddingsStoredTotal     int64 `json:"embeddings_stored_total"`
	D1ReadsToday              int64 `json:"d1_reads_today"`
}

// BudgetOp names an operation gated by the usage budget.
type BudgetOp string

const (
	OpVectorizeQuery    BudgetOp = "vectorize_query"
	OpEmbeddingBackfill BudgetOp = "embedding_backfill"
)

// BudgetDecision is the outcome of a budget check. Reason is set only when
// the operation is denied.
type BudgetDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// WorkerMetrics is one row per pipeline execution.
type WorkerMetrics struct {
	CreatedAt        int64
	Pipeline         string
	ItemsProcessed   int
	ItemsChanged     int
	SnapshotsCreated int
	DurationMS       int64
	ErrorCount       int
}

// Analysis carries the classification results for one story.
type Analysis struct {
	Topic       string
	ContentType string
	Sentiment   float64
}
