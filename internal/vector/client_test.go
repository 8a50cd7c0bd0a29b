package vector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestNewNilOnEmptyBaseURL(t *testing.T) {
	if c := New("", "token", discardLogger()); c != nil {
		t.Fatal("expected nil client for empty base URL")
	}
}

func TestVectorID(t *testing.T) {
	if got := VectorID(12345); got != "12345" {
		t.Errorf("VectorID(12345) = %q", got)
	}
}

func TestTruncateTitle(t *testing.T) {
	long := strings.Repeat("a", 300)
	if got := TruncateTitle(long); len(got) != 200 {
		t.Errorf("truncated title has len %d, want 200", len(got))
	}
	if got := TruncateTitle("short"); got != "short" {
		t.Errorf("short title changed: %q", got)
	}
}

func TestUpsertSendsAuthAndTruncatesMetadata(t *testing.T) {
	var gotAuth string
	var gotBody struct {
		Vectors []Vector `json:"vectors"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors/upsert" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", discardLogger())
	err := c.Upsert(context.Background(), []Vector{{
		ID:       "42",
		Values:   []float32{0.1, 0.2},
		Metadata: Metadata{Title: strings.Repeat("t", 250), Score: 7},
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotBody.Vectors) != 1 || len(gotBody.Vectors[0].Metadata.Title) != 200 {
		t.Errorf("metadata title not truncated in request body")
	}
}

func TestQueryDecodesMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[{"id":"10","score":0.98,"metadata":{"title":"A","score":5}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", discardLogger())
	matches, err := c.Query(context.Background(), []float32{0.5}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "10" || matches[0].Score != 0.98 {
		t.Errorf("unexpected matches: %+v", matches)
	}
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("index unavailable"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", discardLogger())
	_, err := c.Describe(context.Background())
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "index unavailable") {
		t.Errorf("error missing status or body: %v", err)
	}
}

func TestEmptyBatchesAreNoOps(t *testing.T) {
	c := New("http://127.0.0.1:1", "", discardLogger())
	if err := c.Upsert(context.Background(), nil); err != nil {
		t.Errorf("empty Upsert should be a no-op, got %v", err)
	}
	if err := c.DeleteByIDs(context.Background(), nil); err != nil {
		t.Errorf("empty DeleteByIDs should be a no-op, got %v", err)
	}
	if got, err := c.GetByIDs(context.Background(), nil); err != nil || got != nil {
		t.Errorf("empty GetByIDs should be a no-op, got %v, %v", got, err)
	}
}
