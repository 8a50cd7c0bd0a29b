package ratelimit

import (
	"sync"
	"time"
)

// PerIP is a fixed-window request counter keyed by client address. Entries
// older than the window are reaped lazily on each Allow call, so the table
// stays bounded without a background goroutine.
type PerIP struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*windowEntry
	now     Clock

	lastReap time.Time
}

type windowEntry struct {
	count   int
	started time.Time
}

// NewPerIP creates a per-key limiter admitting limit requests per window.
func NewPerIP(limit int, window time.Duration, now Clock) *PerIP {
	if now == nil {
		now = time.Now
	}
	return &PerIP{
		limit:    limit,
		window:   window,
		entries:  make(map[string]*windowEntry),
		now:      now,
		lastReap: now(),
	}
}

// Allow records a request for key and reports whether it is within the
// window's budget. An empty key (no forwarded-for header) is admitted
// unconditionally.
func (p *PerIP) Allow(key string) bool {
	if key == "" {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.now()
	if t.Sub(p.lastReap) >= p.window {
		p.reap(t)
		p.lastReap = t
	}

	e, ok := p.entries[key]
	if !ok || t.Sub(e.started) >= p.window {
		p.entries[key] = &windowEntry{count: 1, started: t}
		return true
	}
	if e.count >= p.limit {
		return false
	}
	e.count++
	return true
}

// reap drops expired windows. Caller holds mu.
func (p *PerIP) reap(t time.Time) {
	for k, e := range p.entries {
		if t.Sub(e.started) >= p.window {
			delete(p.entries, k)
		}
	}
}

// Len reports the live entry count. Exposed for tests.
func (p *PerIP) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
