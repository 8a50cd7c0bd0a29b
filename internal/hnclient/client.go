// Package hnclient fetches item metadata, the max-id pointer, the front
// page, and the change feed from the upstream news API. Every request goes
// through a shared token bucket, carries a hard per-request deadline, and
// retries transient failures with exponential backoff.
package hnclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hnfoundry/hnarchive/internal/ratelimit"
	"github.com/hnfoundry/hnarchive/internal/types"
)

// errAbsent marks a 404 or JSON-null item. Internal: callers see nil, nil.
var errAbsent = errors.New("item not present upstream")

// Updates is the upstream change-notification feed.
type Updates struct {
	Items    []int64  `json:"items"`
	Profiles []string `json:"profiles"`
}

// Options tunes a Client. Zero values take the documented defaults.
type Options struct {
	RequestTimeout time.Duration // per-request deadline, default 10s
	BucketCapacity int           // token bucket size, default 50
	RefillPerSec   float64       // token refill rate, default 50/s
	MaxConcurrent  int64         // ItemsBatch fan-out cap, default 100
	MaxRetries     uint64        // attempts beyond the first, default 2 (3 total)
	HTTPClient     *http.Client  // injected for tests
	Clock          ratelimit.Clock
}

// Client is the upstream API client. Safe for concurrent use; the token
// bucket is shared across all calls so concurrent pipelines observe one
// global rate.
type Client struct {
	base    string
	http    *http.Client
	bucket  *ratelimit.Bucket
	sem     *semaphore.Weighted
	timeout time.Duration
	retries uint64
	log     *slog.Logger
}

// New creates a client for the given base URL (no trailing slash).
func New(base string, log *slog.Logger, opts Options) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("upstream base URL must not be empty")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.BucketCapacity <= 0 {
		opts.BucketCapacity = 50
	}
	if opts.RefillPerSec <= 0 {
		opts.RefillPerSec = 50
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 100
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	bucket, err := ratelimit.NewBucket(opts.BucketCapacity, opts.RefillPerSec, opts.Clock)
	if err != nil {
		return nil, err
	}
	return &Client{
		base:    base,
		http:    opts.HTTPClient,
		bucket:  bucket,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		timeout: opts.RequestTimeout,
		retries: opts.MaxRetries,
		log:     log,
	}, nil
}

// get performs one rate-limited GET with retry and decodes the body into v.
// Returns errAbsent on 404. A JSON literal null decodes v to its zero value
// without error; callers that care (Item) check for it.
func (c *Client) get(ctx context.Context, path string, v any) error {
	if err := c.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	attempt := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // network or timeout: retryable
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errAbsent)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			// Drain so the connection can be reused across retries.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("upstream returned status %d for %s", resp.StatusCode, path)
		}

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx))
	if err != nil && !errors.Is(err, errAbsent) {
		return fmt.Errorf("upstream GET %s: %w", path, err)
	}
	return err
}

// MaxItemID fetches the current live max item id (a naked JSON integer).
func (c *Client) MaxItemID(ctx context.Context) (int64, error) {
	var id int64
	if err := c.get(ctx, "/maxitem.json", &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("upstream max item id is non-positive: %d", id)
	}
	return id, nil
}

// Item fetches one item. Absent items (404 or JSON null) resolve to
// (nil, nil). Malformed payloads fail the call.
func (c *Client) Item(ctx context.Context, id int64) (*types.Item, error) {
	var item *types.Item
	err := c.get(ctx, fmt.Sprintf("/item/%d.json", id), &item)
	if errors.Is(err, errAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item == nil {
		// JSON literal null: the upstream's way of saying "gone".
		return nil, nil
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item payload: %w", err)
	}
	return item, nil
}

// ItemsBatch fans out fetches for ids with the concurrency cap. It returns
// the fetched subset in arbitrary order plus the number of ids whose fetch
// failed. Absent ids (404, JSON null) are neither fetched nor failed; ids
// left unattempted after a cancellation count as failed so callers can tell
// a quiet batch from a broken one.
func (c *Client) ItemsBatch(ctx context.Context, ids []int64) ([]types.Item, int) {
	var (
		mu     sync.Mutex
		items  = make([]types.Item, 0, len(ids))
		failed int
		wg     sync.WaitGroup
	)
	for i, id := range ids {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed += len(ids) - i
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer c.sem.Release(1)

			item, err := c.Item(ctx, id)
			if err != nil {
				c.log.Warn("item fetch failed", "id", id, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			if item == nil {
				return // absent upstream; nothing to archive
			}
			mu.Lock()
			items = append(items, *item)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return items, failed
}

// TopStories fetches the front-page story ids.
func (c *Client) TopStories(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.get(ctx, "/topstories.json", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Updates fetches the change-notification feed.
func (c *Client) Updates(ctx context.Context) (Updates, error) {
	var u Updates
	if err := c.get(ctx, "/updates.json", &u); err != nil {
		return Updates{}, err
	}
	return u, nil
}
