// Package ratelimit provides the process-wide token buckets guarding the
// upstream API client and the per-IP admission table for the HTTP frontdoor.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time for tests. Production code passes nil and gets the
// real clock.
type Clock func() time.Time

// Bucket is a time-based token bucket: tokens refill continuously at Rate
// per second up to Capacity. Refill happens lazily on each check, so an idle
// bucket costs nothing.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time
	now      Clock
}

// NewBucket creates a full bucket. A nil clock uses time.Now.
func NewBucket(capacity int, ratePerSec float64, now Clock) (*Bucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("bucket capacity must be positive, got %d", capacity)
	}
	if ratePerSec <= 0 {
		return nil, fmt.Errorf("bucket rate must be positive, got %f", ratePerSec)
	}
	if now == nil {
		now = time.Now
	}
	return &Bucket{
		capacity: float64(capacity),
		rate:     ratePerSec,
		tokens:   float64(capacity),
		last:     now(),
		now:      now,
	}, nil
}

// refill advances the bucket to the current time. Caller holds mu.
func (b *Bucket) refill() {
	t := b.now()
	elapsed := t.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = t
	}
}

// TryTake consumes one token if available.
func (b *Bucket) TryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done. The sleep slice is
// sized to the time the next token needs, so a depleted bucket admits
// exactly one caller per 1/rate interval.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / b.rate * float64(time.Second))
		b.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Tokens reports the current token count after refill. Exposed for tests
// and the stats endpoint.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
