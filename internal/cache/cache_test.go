package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

// stubStore implements just the analytics-cache slice of storage.Store.
type stubStore struct {
	storage.Store

	entries map[string]Entry
}

func (s *stubStore) GetAnalyticsCache(_ context.Context, key string) ([]byte, int64, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, 0, storage.ErrCacheMiss
	}
	return e.Payload, e.ComputedAt, nil
}

func (s *stubStore) SetAnalyticsCache(_ context.Context, key string, payload []byte) error {
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
	s.entries[key] = Entry{Payload: payload, ComputedAt: time.Now().UnixMilli()}
	return nil
}

func TestNewValidatesOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default backend needs store", Options{}, true},
		{"sqlite backend needs store", Options{Backend: BackendSQLite}, true},
		{"sqlite with store", Options{Backend: BackendSQLite, Store: &stubStore{}}, false},
		{"empty backend selects sqlite", Options{Store: &stubStore{}}, false},
		{"redis needs address", Options{Backend: BackendRedis}, true},
		{"redis with address", Options{Backend: BackendRedis, RedisAddr: "localhost:6379"}, false},
		{"unknown backend", Options{Backend: "memcached", Store: &stubStore{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, c.Close())
		})
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	c, err := New(Options{Store: &stubStore{}})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "stats")
	require.ErrorIs(t, err, storage.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "stats", []byte(`{"n":1}`), 5*time.Minute))

	e, err := c.Get(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(e.Payload))
	assert.NotZero(t, e.ComputedAt, "ComputedAt must be stamped")
}

func TestFresh(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute

	tests := []struct {
		name       string
		computedAt int64
		want       bool
	}{
		{"just computed", now.UnixMilli(), true},
		{"within ttl", now.Add(-4 * time.Minute).UnixMilli(), true},
		{"exactly at ttl", now.Add(-5 * time.Minute).UnixMilli(), false},
		{"past ttl", now.Add(-time.Hour).UnixMilli(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fresh(tt.computedAt, ttl, now))
		})
	}
}
