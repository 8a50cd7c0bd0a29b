package scheduler

import (
	"context"
	"log/slog"
	"testing"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type recordingStore struct {
	logged  []string
	cleaned int
}

func (r *recordingStore) LogError(_ context.Context, _, message string, _ map[string]string) error {
	r.logged = append(r.logged, message)
	return nil
}

func (r *recordingStore) Cleanup(context.Context) (storage.CleanupStats, error) {
	r.cleaned++
	return storage.CleanupStats{ErrorLogsPurged: 2}, nil
}

func TestSafelyRecoversPanic(t *testing.T) {
	store := &recordingStore{}
	s := New(nil, store, slog.New(slog.NewTextHandler(discard{}, nil)), Options{})

	s.safely(context.Background(), "discovery", func() {
		panic("tick exploded")
	})

	if len(store.logged) != 1 || store.logged[0] != "pipeline panic" {
		t.Fatalf("panic not persisted: %v", store.logged)
	}
}

func TestCleanupRunsAndLogs(t *testing.T) {
	store := &recordingStore{}
	s := New(nil, store, slog.New(slog.NewTextHandler(discard{}, nil)), Options{})

	s.cleanup(context.Background())
	if store.cleaned != 1 {
		t.Fatalf("cleanup not invoked")
	}
}

func TestToString(t *testing.T) {
	if toString("x") != "x" {
		t.Error("string passthrough failed")
	}
	if toString(context.Canceled) != "context canceled" {
		t.Error("error conversion failed")
	}
	if toString(42) != "non-string panic value" {
		t.Error("fallback failed")
	}
}
