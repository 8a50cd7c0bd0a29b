package ai

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hnfoundry/hnarchive/internal/types"
)

// analyzeConcurrency caps parallel model calls per batch.
const analyzeConcurrency = 4

// AnalyzeStories classifies a batch of stories best-effort: every story is
// attempted, failures are logged and skipped, and the result holds only the
// successful subset keyed by item id. The error count is returned alongside.
func AnalyzeStories(ctx context.Context, c *Classifier, stories []types.Item, log *slog.Logger) (map[int64]types.Analysis, int) {
	results := make(map[int64]types.Analysis, len(stories))
	if len(stories) == 0 {
		return results, 0
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
	)
	sem := semaphore.NewWeighted(analyzeConcurrency)

	for _, story := range stories {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(story types.Item) {
			defer wg.Done()
			defer sem.Release(1)

			analysis, err := analyzeOne(ctx, c, story)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn("story analysis failed", "id", story.ID, "error", err)
				return
			}
			results[story.ID] = analysis
		}(story)
	}
	wg.Wait()
	return results, failed
}

func analyzeOne(ctx context.Context, c *Classifier, story types.Item) (types.Analysis, error) {
	topic, err := c.ClassifyTopic(ctx, story.Title, story.URL)
	if err != nil {
		return types.Analysis{}, err
	}
	contentType, err := c.ClassifyContentType(ctx, story.Title)
	if err != nil {
		return types.Analysis{}, err
	}
	sentiment, err := c.Sentiment(ctx, story.Title)
	if err != nil {
		return types.Analysis{}, err
	}
	return types.Analysis{Topic: topic, ContentType: contentType, Sentiment: sentiment}, nil
}
