package ai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultEmbedModel = "nomic-embed-text"

// Embedder produces fixed-dimension embeddings through a local Ollama
// daemon.
type Embedder struct {
	client *api.Client
	model  string
	dims   int
	log    *slog.Logger
}

// NewEmbedder connects to the Ollama daemon at host (empty means the
// OLLAMA_HOST env var or the default localhost:11434). dims is the expected
// vector dimensionality; mismatched responses are rejected.
func NewEmbedder(host, model string, dims int, log *slog.Logger) (*Embedder, error) {
	if model == "" {
		model = defaultEmbedModel
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dims)
	}

	var (
		client *api.Client
		err    error
	)
	if host != "" {
		base, parseErr := url.Parse(host)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, parseErr)
		}
		client = api.NewClient(base, &http.Client{Timeout: 60 * time.Second})
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}
	return &Embedder{client: client, model: model, dims: dims, log: log}, nil
}

// Dims returns the configured vector dimensionality.
func (e *Embedder) Dims() int { return e.dims }

// EmbedText produces one embedding for a piece of text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts produces embeddings for a batch of texts in one request.
// The result is index-aligned with the input.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	}
	resp, err := e.client.Embed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Embeddings))
	}
	for i, vec := range resp.Embeddings {
		if len(vec) != e.dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d",
				i, len(vec), e.dims)
		}
	}
	return resp.Embeddings, nil
}

// EmbeddingText builds the text embedded for a story: title plus topic and
// a text excerpt when present.
func EmbeddingText(title, topic, text string) string {
	var b strings.Builder
	b.WriteString(title)
	if topic != "" {
		b.WriteString("\nTopic: ")
		b.WriteString(topic)
	}
	if text != "" {
		excerpt := text
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		b.WriteString("\n")
		b.WriteString(excerpt)
	}
	return b.String()
}
