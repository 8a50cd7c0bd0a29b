// Package server is the HTTP frontdoor: pipeline trigger endpoints behind
// bearer auth, public read APIs, and the admission chain (CORS, per-IP rate
// limiting, auth, parameter validation) every request passes through.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hnfoundry/hnarchive/internal/ai"
	"github.com/hnfoundry/hnarchive/internal/cache"
	"github.com/hnfoundry/hnarchive/internal/pipeline"
	"github.com/hnfoundry/hnarchive/internal/ratelimit"
	"github.com/hnfoundry/hnarchive/internal/storage"
	"github.com/hnfoundry/hnarchive/internal/vector"
)

// Options configures the frontdoor.
type Options struct {
	BindAddr       string
	TriggerSecret  string
	AllowedOrigins []string
	IPRateLimit    int           // default 100
	IPRateWindow   time.Duration // default 60s
	Clock          func() time.Time
}

// Server serves the public API and the operational trigger endpoints.
type Server struct {
	store     storage.Store
	pipelines *pipeline.Pipelines
	vectors   *vector.Client // nil disables similarity endpoints
	embedder  *ai.Embedder   // nil disables topic similarity
	cache     cache.Cache
	limiter   *ratelimit.PerIP
	origins   map[string]bool
	secret    string
	log       *slog.Logger
	now       func() time.Time

	httpServer *http.Server
}

// New assembles the server. cache may be nil; analytics responses are then
// recomputed per request.
func New(store storage.Store, pipelines *pipeline.Pipelines, vectors *vector.Client, embedder *ai.Embedder, c cache.Cache, log *slog.Logger, opts Options) *Server {
	if opts.IPRateLimit <= 0 {
		opts.IPRateLimit = 100
	}
	if opts.IPRateWindow <= 0 {
		opts.IPRateWindow = 60 * time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = true
	}

	s := &Server{
		store:     store,
		pipelines: pipelines,
		vectors:   vectors,
		embedder:  embedder,
		cache:     c,
		limiter:   ratelimit.NewPerIP(opts.IPRateLimit, opts.IPRateWindow, now),
		origins:   origins,
		secret:    opts.TriggerSecret,
		log:       log,
		now:       now,
	}
	s.httpServer = &http.Server{
		Addr:              opts.BindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table wrapped in the admission chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Operational triggers, bearer auth required.
	mux.HandleFunc("POST /trigger/discovery", s.requireAuth(s.handleTrigger(pipeline.NameDiscovery)))
	mux.HandleFunc("POST /trigger/updates", s.requireAuth(s.handleTrigger(pipeline.NameUpdates)))
	mux.HandleFunc("POST /trigger/backfill", s.requireAuth(s.handleTrigger(pipeline.NameBackfill)))
	mux.HandleFunc("POST /trigger/ai-backfill", s.requireAuth(s.handleTrigger(pipeline.NameAIBackfill)))
	mux.HandleFunc("POST /api/compute-topic-similarity", s.requireAuth(s.handleTopicSimilarity))
	mux.HandleFunc("GET /api/similar/{id}", s.requireAuth(s.handleSimilar))

	// Public reads.
	mux.HandleFunc("GET /api/item/{id}", s.handleItem)
	mux.HandleFunc("GET /api/item/{id}/snapshots", s.handleItemSnapshots)
	mux.HandleFunc("GET /api/items", s.handleItems)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.admission(mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
