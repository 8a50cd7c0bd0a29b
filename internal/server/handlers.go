package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hnfoundry/hnarchive/internal/ai"
	"github.com/hnfoundry/hnarchive/internal/cache"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/types"
	"github.com/hnfoundry/hnarchive/internal/vector"
)

const (
	// maxItemID bounds id path parameters; ids beyond it cannot exist yet.
	maxItemID = 100_000_000
	// minSince is 2000-01-01T00:00:00Z, well before the site existed.
	minSince = 946684800

	statsCacheTTL = 5 * time.Minute
)

// parseID validates an id path value against [1, maxItemID].
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 || id > maxItemID {
		return 0, false
	}
	return id, true
}

// parseSince validates a unix-seconds since parameter against
// [2000-01-01, now+24h]. Zero raw means "not provided".
func parseSince(raw string, now time.Time) (time.Time, bool) {
	if raw == "" {
		return now.Add(-24 * time.Hour), true
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec < minSince || sec > now.Add(24*time.Hour).Unix() {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// clampLimit forces a limit parameter into [1, 100], defaulting to 30.
func clampLimit(raw string) int {
	if raw == "" {
		return 30
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}

func (s *Server) handleTrigger(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.pipelines.Run(r.Context(), name)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		s.log.Error("item lookup failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	s.store.IncrementUsage(r.Context(), storage.D1ReadsDayKey(s.now()), 1)
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleItemSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}
	limit := clampLimit(r.URL.Query().Get("limit"))
	snaps, err := s.store.SnapshotsForItem(r.Context(), id, limit)
	if err != nil {
		s.log.Error("snapshot lookup failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	s.store.IncrementUsage(r.Context(), storage.D1ReadsDayKey(s.now()), 1)
	s.writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "snapshots": snaps})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(r.URL.Query().Get("since"), s.now())
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid since parameter")
		return
	}
	limit := clampLimit(r.URL.Query().Get("limit"))

	items, err := s.store.TopStoriesSince(r.Context(), since, limit)
	if err != nil {
		s.log.Error("items query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	s.store.IncrementUsage(r.Context(), storage.D1ReadsDayKey(s.now()), 1)
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.vectors == nil {
		s.writeError(w, http.StatusServiceUnavailable, "similarity search not available")
		return
	}
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	decision, err := s.store.CheckBudget(r.Context(), types.OpVectorizeQuery)
	if err != nil {
		s.log.Error("budget check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if !decision.Allowed {
		s.writeError(w, http.StatusTooManyRequests, decision.Reason)
		return
	}

	stored, err := s.vectors.GetByIDs(r.Context(), []string{vector.VectorID(id)})
	if err != nil {
		s.log.Error("vector fetch failed", "id", id, "error", err)
		s.writeError(w, http.StatusBadGateway, "Vector index unavailable")
		return
	}
	if len(stored) == 0 {
		s.writeError(w, http.StatusNotFound, "No embedding for item")
		return
	}

	// One extra so the item itself can be dropped from its own results.
	matches, err := s.vectors.Query(r.Context(), stored[0].Values, 11)
	if err != nil {
		s.log.Error("vector query failed", "id", id, "error", err)
		s.writeError(w, http.StatusBadGateway, "Vector index unavailable")
		return
	}
	self := vector.VectorID(id)
	out := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		if m.ID == self {
			continue
		}
		out = append(out, m)
		if len(out) == 10 {
			break
		}
	}

	now := s.now()
	s.store.IncrementUsage(r.Context(), storage.VectorizeDayKey(now), 1)
	s.store.IncrementUsage(r.Context(), storage.VectorizeMonthKey(now), 1)
	s.writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "similar": out})
}

// statsResponse is the /api/stats shape, also what gets cached.
type statsResponse struct {
	Topics             map[string]int64   `json:"topics"`
	SentimentByTopic   map[string]float64 `json:"sentiment_by_topic"`
	MaxItemIDSeen      int64              `json:"max_item_id_seen"`
	ItemsArchivedToday int64              `json:"items_archived_today"`
	ErrorsToday        int64              `json:"errors_today"`
	LastDiscoveryRun   int64              `json:"last_discovery_run"`
	LastUpdatesCheck   int64              `json:"last_updates_check"`
	LastBackfillRun    int64              `json:"last_backfill_run"`
	ComputedAt         int64              `json:"computed_at"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	const key = "stats"
	if s.cache != nil {
		if e, err := s.cache.Get(r.Context(), key); err == nil && cache.Fresh(e.ComputedAt, statsCacheTTL, s.now()) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(e.Payload)
			return
		}
	}

	topics, err := s.store.TopicCounts(r.Context())
	if err != nil {
		s.log.Error("topic counts failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	sentiments, err := s.store.SentimentByTopic(r.Context())
	if err != nil {
		s.log.Error("sentiment averages failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	resp := statsResponse{
		Topics:           topics,
		SentimentByTopic: sentiments,
		ComputedAt:       s.now().UnixMilli(),
	}
	for key, dst := range map[string]*int64{
		storage.StateMaxItemIDSeen:      &resp.MaxItemIDSeen,
		storage.StateItemsArchivedToday: &resp.ItemsArchivedToday,
		storage.StateErrorsToday:        &resp.ErrorsToday,
		storage.StateLastDiscoveryRun:   &resp.LastDiscoveryRun,
		storage.StateLastUpdatesCheck:   &resp.LastUpdatesCheck,
		storage.StateLastBackfillRun:    &resp.LastBackfillRun,
	} {
		if v, err := s.store.GetState(r.Context(), key); err == nil {
			*dst = v
		}
	}

	if s.cache != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := s.cache.Set(r.Context(), key, payload, statsCacheTTL); err != nil {
				s.log.Warn("failed to cache stats", "error", err)
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.UsageStats(r.Context())
	if err != nil {
		s.log.Error("usage stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTopicSimilarity embeds topic labels and returns their pairwise
// cosine similarity. The result is cached; topic labels only change with a
// model revision.
func (s *Server) handleTopicSimilarity(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "similarity search not available")
		return
	}

	var req struct {
		Topics []string `json:"topics"`
	}
	// An empty or malformed body selects all known topics.
	_ = json.NewDecoder(r.Body).Decode(&req)
	topics := req.Topics
	if len(topics) == 0 {
		topics = ai.Topics
	}

	vecs, err := s.embedder.EmbedTexts(r.Context(), topics)
	if err != nil {
		s.log.Error("topic embedding failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "Embedding service unavailable")
		return
	}

	matrix := make(map[string]map[string]float64, len(topics))
	for i, a := range topics {
		row := make(map[string]float64, len(topics))
		for j, b := range topics {
			row[b] = cosine(vecs[i], vecs[j])
		}
		matrix[a] = row
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"topics":     topics,
		"similarity": matrix,
	})
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
