// Package vector is a thin REST client for the vector index service used
// for similarity search over story embeddings. The index is optional; a nil
// *Client disables similarity features at the API layer.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	requestTimeout = 15 * time.Second
	// maxTitleMetadata caps the title stored alongside each vector.
	maxTitleMetadata = 200
)

// Metadata travels with each vector and comes back on query matches.
type Metadata struct {
	Topic string `json:"topic,omitempty"`
	Score int64  `json:"score"`
	Title string `json:"title"`
}

// Vector is one entry in the index, keyed by the decimal item id.
type Vector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Match is one query result with its similarity score.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// IndexInfo describes the remote index.
type IndexInfo struct {
	Dimensions  int   `json:"dimensions"`
	VectorCount int64 `json:"vectorCount"`
}

// Client talks to the vector index over HTTP with bearer auth.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// New creates a client for the index at baseURL. Returns nil when baseURL
// is empty so callers can treat the index as absent.
func New(baseURL, token string, log *slog.Logger) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// VectorID renders an item id the way the index stores it.
func VectorID(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}

// TruncateTitle enforces the metadata title cap.
func TruncateTitle(title string) string {
	if len(title) > maxTitleMetadata {
		return title[:maxTitleMetadata]
	}
	return title
}

// Upsert writes a batch of vectors, replacing any with the same id.
func (c *Client) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	for i := range vectors {
		vectors[i].Metadata.Title = TruncateTitle(vectors[i].Metadata.Title)
	}
	body := map[string]any{"vectors": vectors}
	return c.do(ctx, http.MethodPost, "/vectors/upsert", body, nil)
}

// Query returns the topK nearest vectors to the given embedding.
func (c *Client) Query(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	body := map[string]any{
		"vector":         embedding,
		"topK":           topK,
		"returnMetadata": true,
	}
	var out struct {
		Matches []Match `json:"matches"`
	}
	if err := c.do(ctx, http.MethodPost, "/vectors/query", body, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// GetByIDs fetches stored vectors by id. Missing ids are omitted from the
// result, not errors.
func (c *Client) GetByIDs(ctx context.Context, ids []string) ([]Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{"ids": ids}
	var out struct {
		Vectors []Vector `json:"vectors"`
	}
	if err := c.do(ctx, http.MethodPost, "/vectors/get", body, &out); err != nil {
		return nil, err
	}
	return out.Vectors, nil
}

// DeleteByIDs removes vectors for items that were deleted upstream.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids}
	return c.do(ctx, http.MethodPost, "/vectors/delete", body, nil)
}

// Describe reports index dimensions and vector count.
func (c *Client) Describe(ctx context.Context) (IndexInfo, error) {
	var info IndexInfo
	if err := c.do(ctx, http.MethodGet, "/vectors/describe", nil, &info); err != nil {
		return IndexInfo{}, err
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector index request %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("vector index %s returned %d: %s", path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
