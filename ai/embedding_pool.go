package ai

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// boundedEmbeddingService wraps an EmbeddingService with a weighted semaphore
// so at most maxWorkers embedding requests run at once. Embedding is CPU-bound
// relative to the surrounding I/O-bound work and must not starve concurrent
// request handling.
type boundedEmbeddingService struct {
	inner EmbeddingService
	sem   *semaphore.Weighted
}

// NewBoundedEmbeddingService decorates inner with a concurrency bound.
// maxWorkers values below 1 are treated as 1.
func NewBoundedEmbeddingService(inner EmbeddingService, maxWorkers int) EmbeddingService {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &boundedEmbeddingService{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxWorkers)),
	}
}

func (s *boundedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.inner.Embed(ctx, text)
}

func (s *boundedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.inner.EmbedBatch(ctx, texts)
}

func (s *boundedEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}
