// Package ai wraps the remote model collaborators: story classification and
// sentiment via the Anthropic API, embeddings via a local Ollama instance.
// Every operation tolerates transient failures; callers wrap the calls in a
// best-effort settler so partial successes still produce valid rows.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// errAPIKeyRequired is returned when no Anthropic key is configured.
var errAPIKeyRequired = errors.New("API key required")

// Topics is the closed set of story topics. Unrecognized model output is
// substituted with "other".
var Topics = []string{
	"artificial-intelligence", "programming", "web-development", "startups",
	"science", "security", "crypto-blockchain", "hardware", "career",
	"politics", "business", "gaming", "other",
}

// ContentTypes is the closed set of content-type labels.
var ContentTypes = []string{
	"news", "tutorial", "opinion", "research", "launch", "discussion",
	"show-hn", "ask-hn", "tell-hn", "job", "other",
}

// Classifier calls the Anthropic API for topic, content-type, and sentiment
// classification.
type Classifier struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
	log            *slog.Logger
}

// NewClassifier creates a classifier. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey.
func NewClassifier(apiKey, model string, log *slog.Logger) (*Classifier, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or provide via config", errAPIKeyRequired)
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Classifier{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		log:            log,
	}, nil
}

// validTopic reports whether t is in the closed topic set.
func validTopic(t string) bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

func validContentType(t string) bool {
	for _, known := range ContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ContentTypeFromTitle short-circuits the model call with pattern matches on
// well-known title prefixes. The empty return means "no match, ask the
// model".
func ContentTypeFromTitle(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.HasPrefix(title, "Show HN:"):
		return "show-hn"
	case strings.HasPrefix(title, "Ask HN:"):
		return "ask-hn"
	case strings.HasPrefix(title, "Tell HN:"):
		return "tell-hn"
	case strings.Contains(lower, "is hiring") ||
		strings.Contains(lower, "job:") ||
		strings.Contains(lower, "(yc "):
		return "job"
	}
	return ""
}

// ClassifyTopic classifies a story title (plus optional URL) into the
// closed topic set. Unrecognized responses substitute "other".
func (c *Classifier) ClassifyTopic(ctx context.Context, title, url string) (string, error) {
	prompt := fmt.Sprintf(
		"Classify this news story into exactly one topic from this list:\n%s\n\nTitle: %s\n",
		strings.Join(Topics, ", "), title)
	if url != "" {
		prompt += fmt.Sprintf("URL: %s\n", url)
	}
	prompt += "\nRespond with only the topic slug, nothing else."

	resp, err := c.callWithRetry(ctx, prompt, 16)
	if err != nil {
		return "", err
	}
	topic := strings.ToLower(strings.TrimSpace(resp))
	if !validTopic(topic) {
		c.log.Warn("model returned unknown topic, substituting other", "topic", topic)
		topic = "other"
	}
	return topic, nil
}

// ClassifyContentType classifies a title into the closed content-type set.
// Title-prefix short-circuits bypass the model call entirely.
func (c *Classifier) ClassifyContentType(ctx context.Context, title string) (string, error) {
	if ct := ContentTypeFromTitle(title); ct != "" {
		return ct, nil
	}
	prompt := fmt.Sprintf(
		"Classify this news story title into exactly one content type from this list:\n%s\n\nTitle: %s\n\nRespond with only the content-type slug, nothing else.",
		strings.Join(ContentTypes, ", "), title)

	resp, err := c.callWithRetry(ctx, prompt, 16)
	if err != nil {
		return "", err
	}
	ct := strings.ToLower(strings.TrimSpace(resp))
	if !validContentType(ct) {
		ct = "other"
	}
	return ct, nil
}

// sentimentLabel is one entry of the two-label classifier response.
type sentimentLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Sentiment scores a title in [0,1]. The model is asked for the two-label
// {POSITIVE, NEGATIVE} shape; ParseSentiment maps it leniently.
func (c *Classifier) Sentiment(ctx context.Context, title string) (float64, error) {
	prompt := fmt.Sprintf(
		`Rate the sentiment of this news title. Respond with ONLY a JSON array of label scores, e.g. [{"label":"POSITIVE","score":0.93},{"label":"NEGATIVE","score":0.07}].

Title: %s`, title)

	resp, err := c.callWithRetry(ctx, prompt, 64)
	if err != nil {
		return 0, err
	}
	return ParseSentiment(resp), nil
}

// ParseSentiment maps a two-label classifier response to [0,1]: the
// POSITIVE score directly, or 1 − NEGATIVE score if only the negative label
// appears. Malformed responses default to 0.5 (neutral).
func ParseSentiment(raw string) float64 {
	var labels []sentimentLabel
	if err := json.Unmarshal([]byte(extractJSON(raw)), &labels); err != nil {
		return 0.5
	}
	var (
		negative    float64
		hasNegative bool
	)
	for _, l := range labels {
		switch strings.ToUpper(l.Label) {
		case "POSITIVE":
			return clamp01(l.Score)
		case "NEGATIVE":
			negative = l.Score
			hasNegative = true
		}
	}
	if hasNegative {
		return clamp01(1 - negative)
	}
	return 0.5
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// extractJSON strips markdown fences the model sometimes adds despite
// instructions.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func (c *Classifier) callWithRetry(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) > 0 && message.Content[0].Type == "text" {
				return message.Content[0].Text, nil
			}
			return "", fmt.Errorf("unexpected response format: no text block")
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return "", fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
