package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hnfoundry/hnarchive/internal/ai"
	"github.com/hnfoundry/hnarchive/internal/hnclient"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
	"github.com/hnfoundry/hnarchive/internal/vector"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

// fakeStore is an in-memory storage.Store with injectable failures.
type fakeStore struct {
	mu sync.Mutex

	state    map[string]int64
	upserts  [][]types.EnrichedItem
	upsertFn func([]types.EnrichedItem) (types.UpsertResult, error)

	inserted    []types.Snapshot
	recent      []int64
	staleIDs    []int64
	staleErr    error
	analysisIn  []types.Item
	analysisErr error
	saved       map[int64]types.Analysis

	embedIn      []types.Item
	embedErr     error
	embedQueried bool

	budget    types.BudgetDecision
	budgetErr error

	marked []int64
	usage  map[string]int64
	logged []string
	runs   []types.WorkerMetrics
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state:  make(map[string]int64),
		saved:  make(map[int64]types.Analysis),
		usage:  make(map[string]int64),
		budget: types.BudgetDecision{Allowed: true},
	}
}

func (f *fakeStore) UpsertItems(_ context.Context, items []types.EnrichedItem) (types.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, items)
	if f.upsertFn != nil {
		return f.upsertFn(items)
	}
	return types.UpsertResult{Processed: len(items), Changed: len(items)}, nil
}

func (f *fakeStore) GetItem(context.Context, int64) (*types.Item, error) { return nil, nil }

func (f *fakeStore) StaleItemIDs(context.Context, storage.StaleFilter) ([]int64, error) {
	return f.staleIDs, f.staleErr
}

func (f *fakeStore) RecentlyUpdated(context.Context, []int64, time.Duration) ([]int64, error) {
	return f.recent, nil
}

func (f *fakeStore) InsertSnapshots(_ context.Context, snaps []types.Snapshot) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, snaps...)
	return len(snaps), nil
}

func (f *fakeStore) SnapshotsForItem(context.Context, int64, int) ([]types.Snapshot, error) {
	return nil, nil
}

func (f *fakeStore) GetState(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[key], nil
}

func (f *fakeStore) SetState(_ context.Context, key string, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[key] = value
	return nil
}

func (f *fakeStore) StoriesNeedingAnalysis(context.Context, int) ([]types.Item, error) {
	return f.analysisIn, f.analysisErr
}

func (f *fakeStore) StoriesNeedingEmbeddings(context.Context, int) ([]types.Item, error) {
	f.mu.Lock()
	f.embedQueried = true
	f.mu.Unlock()
	return f.embedIn, f.embedErr
}

func (f *fakeStore) SaveAnalyses(_ context.Context, results map[int64]types.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range results {
		f.saved[id] = a
	}
	return nil
}

func (f *fakeStore) MarkEmbedded(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, ids...)
	return nil
}

func (f *fakeStore) IncrementUsage(_ context.Context, key string, delta int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[key] += delta
}

func (f *fakeStore) UsageStats(context.Context) (types.UsageStats, error) {
	return types.UsageStats{}, nil
}

func (f *fakeStore) CheckBudget(context.Context, types.BudgetOp) (types.BudgetDecision, error) {
	return f.budget, f.budgetErr
}

func (f *fakeStore) LogError(_ context.Context, _, message string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, message)
	return nil
}

func (f *fakeStore) RecordWorkerMetrics(_ context.Context, m types.WorkerMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, m)
	return nil
}

func (f *fakeStore) SetAnalyticsCache(context.Context, string, []byte) error { return nil }

func (f *fakeStore) GetAnalyticsCache(context.Context, string) ([]byte, int64, error) {
	return nil, 0, storage.ErrCacheMiss
}

func (f *fakeStore) TopStoriesSince(context.Context, time.Time, int) ([]types.Item, error) {
	return nil, nil
}

func (f *fakeStore) TopicCounts(context.Context) (map[string]int64, error) { return nil, nil }

func (f *fakeStore) SentimentByTopic(context.Context) (map[string]float64, error) {
	return nil, nil
}

func (f *fakeStore) Cleanup(context.Context) (storage.CleanupStats, error) {
	return storage.CleanupStats{}, nil
}

func (f *fakeStore) Close() error { return nil }

// newUpstream serves canned JSON per path; unknown paths 404.
func newUpstream(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func storyJSON(id int64, title string, score int64) string {
	return fmt.Sprintf(`{"id":%d,"type":"story","time":1700000000,"title":%q,"score":%d,"by":"pg"}`, id, title, score)
}

func newTestPipelines(t *testing.T, base string, store storage.Store, opts Options) *Pipelines {
	t.Helper()
	client, err := hnclient.New(base, testLogger(), hnclient.Options{MaxRetries: 1})
	if err != nil {
		t.Fatalf("hnclient.New: %v", err)
	}
	return New(client, store, nil, nil, nil, testLogger(), opts)
}

func TestDiscoveryAdvancesWatermarkPerBatch(t *testing.T) {
	responses := map[string]string{"/maxitem.json": "103"}
	for id := int64(101); id <= 103; id++ {
		responses[fmt.Sprintf("/item/%d.json", id)] = storyJSON(id, "t", 1)
	}
	srv := newUpstream(t, responses)

	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 100

	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 2})
	res := p.Discovery(context.Background())

	if !res.Success || res.Errors != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ItemsProcessed != 3 {
		t.Errorf("ItemsProcessed = %d, want 3", res.ItemsProcessed)
	}
	if got := store.state[storage.StateMaxItemIDSeen]; got != 103 {
		t.Errorf("watermark = %d, want 103", got)
	}
	if store.state[storage.StateLastDiscoveryRun] == 0 {
		t.Error("last_discovery_run not stamped")
	}
	if store.state[storage.StateItemsArchivedToday] != 3 {
		t.Errorf("items_archived_today = %d, want 3", store.state[storage.StateItemsArchivedToday])
	}
}

func TestDiscoveryWatermarkHeldOnFailedBatch(t *testing.T) {
	responses := map[string]string{"/maxitem.json": "105"}
	for id := int64(101); id <= 105; id++ {
		responses[fmt.Sprintf("/item/%d.json", id)] = storyJSON(id, "t", 1)
	}
	srv := newUpstream(t, responses)

	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 100
	store.upsertFn = func([]types.EnrichedItem) (types.UpsertResult, error) {
		return types.UpsertResult{}, errors.New("boom")
	}

	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 100})
	res := p.Discovery(context.Background())

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Errors != 1 {
		t.Errorf("Errors = %d, want 1", res.Errors)
	}
	if got := store.state[storage.StateMaxItemIDSeen]; got != 100 {
		t.Errorf("watermark advanced past failed batch: %d, want 100", got)
	}
	if store.state[storage.StateLastDiscoveryRun] == 0 {
		t.Error("last_discovery_run must be stamped even on failure")
	}
	if len(store.logged) != 1 {
		t.Errorf("expected one persisted error, got %d", len(store.logged))
	}
}

func TestDiscoveryHoldsWatermarkWhenAllFetchesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/maxitem.json" {
			_, _ = w.Write([]byte("110"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 100

	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 100})
	res := p.Discovery(context.Background())

	if res.Success {
		t.Fatal("expected failure when every fetch errors")
	}
	if got := store.state[storage.StateMaxItemIDSeen]; got != 100 {
		t.Errorf("watermark = %d, want 100 (unfetched range must stay unseen)", got)
	}
	if res.ItemsProcessed != 0 {
		t.Errorf("ItemsProcessed = %d, want 0", res.ItemsProcessed)
	}
}

func TestDiscoveryFlagsNewFrontPageStories(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/maxitem.json":    "102",
		"/topstories.json": `[101]`,
		"/item/101.json":   storyJSON(101, "ranked", 120),
		"/item/102.json":   storyJSON(102, "unranked", 2),
	})

	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 100

	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 100})
	res := p.Discovery(context.Background())

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected one upsert batch, got %d", len(store.upserts))
	}
	flags := make(map[int64]bool)
	for _, e := range store.upserts[0] {
		flags[e.ID] = e.IsFrontPage
	}
	if !flags[101] {
		t.Error("item 101 is on the front page and must carry the flag")
	}
	if flags[102] {
		t.Error("item 102 is not on the front page")
	}
}

func TestDiscoveryContinuesPastFailedBatch(t *testing.T) {
	responses := map[string]string{"/maxitem.json": "104"}
	for id := int64(101); id <= 104; id++ {
		responses[fmt.Sprintf("/item/%d.json", id)] = storyJSON(id, "t", 1)
	}
	srv := newUpstream(t, responses)

	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 100
	store.upsertFn = func(items []types.EnrichedItem) (types.UpsertResult, error) {
		for _, it := range items {
			if it.ID <= 102 {
				return types.UpsertResult{}, errors.New("boom")
			}
		}
		return types.UpsertResult{Processed: len(items), Changed: len(items)}, nil
	}

	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 2})
	res := p.Discovery(context.Background())

	if res.Success {
		t.Fatal("expected failure")
	}
	if len(store.upserts) != 2 {
		t.Fatalf("later batches must still run, got %d upsert batches", len(store.upserts))
	}
	if res.ItemsProcessed != 2 {
		t.Errorf("ItemsProcessed = %d, want 2 from the surviving batch", res.ItemsProcessed)
	}
	if got := store.state[storage.StateMaxItemIDSeen]; got != 100 {
		t.Errorf("watermark = %d, want 100 (frozen before the failed batch)", got)
	}
}

func TestDiscoveryColdStartSeedsBoundedBacklog(t *testing.T) {
	responses := map[string]string{"/maxitem.json": "5000"}
	for id := int64(4991); id <= 5000; id++ {
		responses[fmt.Sprintf("/item/%d.json", id)] = storyJSON(id, "t", 1)
	}
	srv := newUpstream(t, responses)

	store := newFakeStore()
	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 100, ColdStartBacklog: 10})
	res := p.Discovery(context.Background())

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ItemsProcessed != 10 {
		t.Errorf("ItemsProcessed = %d, want 10 (bounded backlog)", res.ItemsProcessed)
	}
	if got := store.state[storage.StateMaxItemIDSeen]; got != 5000 {
		t.Errorf("watermark = %d, want 5000", got)
	}
}

func TestUpdatesDedupsRecentAndFlagsFrontPage(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/updates.json":    `{"items":[1,2,3,4,5],"profiles":[]}`,
		"/topstories.json": `[2,900]`,
		"/item/1.json":     storyJSON(1, "one", 1),
		"/item/2.json":     storyJSON(2, "two", 50),
		"/item/3.json":     storyJSON(3, "three", 3),
	})

	store := newFakeStore()
	store.recent = []int64{4, 5}

	p := newTestPipelines(t, srv.URL, store, Options{})
	res := p.Updates(context.Background())

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ItemsProcessed != 3 {
		t.Errorf("ItemsProcessed = %d, want 3 after dedup of [4 5]", res.ItemsProcessed)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected one upsert batch, got %d", len(store.upserts))
	}
	flags := make(map[int64]bool)
	for _, e := range store.upserts[0] {
		flags[e.ID] = e.IsFrontPage
	}
	if !flags[2] {
		t.Error("item 2 should carry the front-page flag")
	}
	if flags[1] || flags[3] {
		t.Error("items 1 and 3 must not carry the front-page flag")
	}
	if store.state[storage.StateLastUpdatesCheck] == 0 {
		t.Error("last_updates_check not stamped")
	}
}

func TestUpdatesContinuesPastFailedBatch(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/updates.json": `{"items":[1,2,3,4],"profiles":[]}`,
		"/item/1.json":  storyJSON(1, "one", 1),
		"/item/2.json":  storyJSON(2, "two", 2),
		"/item/3.json":  storyJSON(3, "three", 3),
		"/item/4.json":  storyJSON(4, "four", 4),
	})

	store := newFakeStore()
	store.upsertFn = func(items []types.EnrichedItem) (types.UpsertResult, error) {
		for _, it := range items {
			if it.ID <= 2 {
				return types.UpsertResult{}, errors.New("boom")
			}
		}
		return types.UpsertResult{Processed: len(items), Changed: len(items)}, nil
	}

	p := newTestPipelines(t, srv.URL, store, Options{BatchSize: 2})
	res := p.Updates(context.Background())

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Errors != 1 {
		t.Errorf("Errors = %d, want 1", res.Errors)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("later batches must still run, got %d upsert batches", len(store.upserts))
	}
	if res.ItemsProcessed != 2 {
		t.Errorf("ItemsProcessed = %d, want 2 from the surviving batch", res.ItemsProcessed)
	}
}

func TestUpdatesFullyDeduplicatedIsNoOp(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/updates.json": `{"items":[7,8],"profiles":[]}`,
	})
	store := newFakeStore()
	store.recent = []int64{7, 8}

	p := newTestPipelines(t, srv.URL, store, Options{})
	res := p.Updates(context.Background())

	if !res.Success || res.ItemsProcessed != 0 {
		t.Fatalf("expected successful no-op, got %+v", res)
	}
	if len(store.upserts) != 0 {
		t.Errorf("no upsert expected, got %d batches", len(store.upserts))
	}
}

func TestBackfillStaleRefreshKeepsOnlyScoreSpikes(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/item/10.json": storyJSON(10, "stale", 80),
	})

	store := newFakeStore()
	store.staleIDs = []int64{10}
	store.upsertFn = func(items []types.EnrichedItem) (types.UpsertResult, error) {
		return types.UpsertResult{
			Processed: len(items),
			Changed:   len(items),
			Snapshots: []types.Snapshot{
				{ItemID: 10, Reason: types.ReasonScoreSpike},
				{ItemID: 10, Reason: types.ReasonSample},
				{ItemID: 10, Reason: types.ReasonFrontPage},
			},
		}, nil
	}

	p := newTestPipelines(t, srv.URL, store, Options{})
	res := p.Backfill(context.Background())

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(store.inserted) != 1 || store.inserted[0].Reason != types.ReasonScoreSpike {
		t.Errorf("stale refresh must keep only score_spike snapshots, got %+v", store.inserted)
	}
	if res.SnapshotsCreated != 1 {
		t.Errorf("SnapshotsCreated = %d, want 1", res.SnapshotsCreated)
	}
	if store.state[storage.StateLastBackfillRun] == 0 {
		t.Error("last_backfill_run not stamped")
	}
}

func TestBackfillPhasesAreIsolated(t *testing.T) {
	srv := newUpstream(t, map[string]string{})

	store := newFakeStore()
	store.staleErr = errors.New("stale select failed")
	store.analysisErr = errors.New("analysis select failed")
	store.embedErr = errors.New("embedding select failed")

	classifier := &ai.Classifier{}
	embedder, err := ai.NewEmbedder("http://127.0.0.1:1", "", 768, testLogger())
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	vectors := vector.New("http://127.0.0.1:1", "", testLogger())

	client, err := hnclient.New(srv.URL, testLogger(), hnclient.Options{MaxRetries: 1})
	if err != nil {
		t.Fatalf("hnclient.New: %v", err)
	}
	p := New(client, store, classifier, embedder, vectors, testLogger(), Options{})
	res := p.Backfill(context.Background())

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Errors != 3 {
		t.Errorf("Errors = %d, want 3 (one per isolated phase)", res.Errors)
	}
	if len(res.ErrorMessages) != 3 {
		t.Errorf("ErrorMessages = %v, want 3 entries", res.ErrorMessages)
	}
	if store.state[storage.StateLastBackfillRun] == 0 {
		t.Error("last_backfill_run must be stamped even on failure")
	}
}

func TestEmbeddingPhaseBudgetDenialIsNotAnError(t *testing.T) {
	srv := newUpstream(t, map[string]string{})

	store := newFakeStore()
	store.budget = types.BudgetDecision{
		Allowed: false,
		Reason:  "Embedding storage limit reached (10000/10000)",
	}

	embedder, err := ai.NewEmbedder("http://127.0.0.1:1", "", 768, testLogger())
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	vectors := vector.New("http://127.0.0.1:1", "", testLogger())

	client, err := hnclient.New(srv.URL, testLogger(), hnclient.Options{MaxRetries: 1})
	if err != nil {
		t.Fatalf("hnclient.New: %v", err)
	}
	p := New(client, store, nil, embedder, vectors, testLogger(), Options{})
	res := p.AIBackfill(context.Background())

	if !res.Success || res.Errors != 0 {
		t.Fatalf("budget denial must not fail the run, got %+v", res)
	}
	if len(res.ErrorMessages) != 1 || res.ErrorMessages[0] != store.budget.Reason {
		t.Errorf("denial reason must surface in messages, got %v", res.ErrorMessages)
	}
	if store.embedQueried {
		t.Error("denied budget must short-circuit before selecting stories")
	}
	if res.ItemsProcessed != 0 {
		t.Errorf("denied run must report zero work, got %d", res.ItemsProcessed)
	}
}

func TestEmbeddingPhaseSettlesPerStory(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "flaky") {
			http.Error(w, `{"error":"model crashed"}`, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	t.Cleanup(ollama.Close)

	var upserted []vector.Vector
	index := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors/upsert" {
			t.Errorf("unexpected index path %s", r.URL.Path)
		}
		var req struct {
			Vectors []vector.Vector `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode upsert: %v", err)
		}
		upserted = append(upserted, req.Vectors...)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(index.Close)

	store := newFakeStore()
	store.embedIn = []types.Item{
		{ID: 31, Title: "steady story", AITopic: "programming"},
		{ID: 32, Title: "flaky story"},
		{ID: 33, Title: "another steady story", AITopic: "science"},
	}

	embedder, err := ai.NewEmbedder(ollama.URL, "", 3, testLogger())
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	vectors := vector.New(index.URL, "", testLogger())

	client, err := hnclient.New("http://127.0.0.1:1", testLogger(), hnclient.Options{MaxRetries: 1})
	if err != nil {
		t.Fatalf("hnclient.New: %v", err)
	}
	p := New(client, store, nil, embedder, vectors, testLogger(), Options{})
	res := p.AIBackfill(context.Background())

	if res.Success {
		t.Fatal("expected failure accounting for the broken story")
	}
	if res.Errors != 1 {
		t.Errorf("Errors = %d, want 1", res.Errors)
	}
	if res.ItemsProcessed != 2 {
		t.Errorf("ItemsProcessed = %d, want 2 (the stories that embedded)", res.ItemsProcessed)
	}
	if len(store.marked) != 2 || store.marked[0] != 31 || store.marked[1] != 33 {
		t.Errorf("marked = %v, want [31 33]", store.marked)
	}
	if got := store.usage[storage.KeyEmbeddingsStoredTotal]; got != 2 {
		t.Errorf("embeddings_stored_total delta = %d, want 2", got)
	}
	if len(upserted) != 2 || upserted[0].ID != "31" || upserted[1].ID != "33" {
		t.Errorf("index received %+v, want vectors 31 and 33", upserted)
	}
	want := "embedding failed for 1 of 3 stories"
	if len(res.ErrorMessages) != 1 || res.ErrorMessages[0] != want {
		t.Errorf("ErrorMessages = %v, want [%q]", res.ErrorMessages, want)
	}
	if len(store.logged) != 1 || store.logged[0] != want {
		t.Errorf("logged = %v, want the settlement message persisted", store.logged)
	}
}

func TestRunDispatch(t *testing.T) {
	srv := newUpstream(t, map[string]string{"/maxitem.json": "1"})
	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 1

	p := newTestPipelines(t, srv.URL, store, Options{})
	res, err := p.Run(context.Background(), NameDiscovery)
	if err != nil {
		t.Fatalf("Run(discovery): %v", err)
	}
	if res.Pipeline != NameDiscovery {
		t.Errorf("Pipeline = %q", res.Pipeline)
	}
	if _, err := p.Run(context.Background(), "nope"); err == nil {
		t.Error("unknown pipeline must error")
	}
}

func TestRunsAreRecorded(t *testing.T) {
	srv := newUpstream(t, map[string]string{"/maxitem.json": "1"})
	store := newFakeStore()
	store.state[storage.StateMaxItemIDSeen] = 1

	p := newTestPipelines(t, srv.URL, store, Options{})
	_ = p.Discovery(context.Background())

	if len(store.runs) != 1 {
		t.Fatalf("expected one metrics row, got %d", len(store.runs))
	}
	if store.runs[0].Pipeline != NameDiscovery {
		t.Errorf("metrics pipeline = %q", store.runs[0].Pipeline)
	}
}
