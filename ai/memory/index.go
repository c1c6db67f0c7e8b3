package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/ai"
	"github.com/UtkarshDeoli/Kite/ai/metrics"
	"github.com/UtkarshDeoli/Kite/store"
)

// EmbeddingStore is the slice of the store the index needs. *store.Store
// satisfies it; tests substitute fakes.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, embedding *store.Embedding) (*store.Embedding, error)
	DeleteEmbedding(ctx context.Context, contentID int64, sourceKind string) error
	DeleteOrphanedEmbeddings(ctx context.Context) (int64, error)
	VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.EmbeddingWithScore, error)
	KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.KeywordMatch, error)
	FindWorkflowsWithoutEmbedding(ctx context.Context, limit int) ([]*store.Workflow, error)
}

// EmbeddingIndex maintains the vector index over stored content. All write
// paths go through it so content text, vector, and metadata stay consistent.
type EmbeddingIndex struct {
	store    EmbeddingStore
	embedder ai.EmbeddingService
	metrics  *metrics.PrometheusExporter
}

// NewEmbeddingIndex builds an index over st. embedder may be nil, in which
// case every operation that needs a vector fails with ErrEmbeddingUnavailable.
// exporter may be nil to disable metrics.
func NewEmbeddingIndex(st EmbeddingStore, embedder ai.EmbeddingService, exporter *metrics.PrometheusExporter) *EmbeddingIndex {
	return &EmbeddingIndex{
		store:    st,
		embedder: embedder,
		metrics:  exporter,
	}
}

// Store upserts content under (contentID, sourceKind), embedding it first
// when no precomputed vector is supplied. Storing the same key twice replaces
// the previous row.
func (x *EmbeddingIndex) Store(ctx context.Context, contentID int64, sourceKind, content string, vector []float32, metadata map[string]any) error {
	if vector == nil {
		var err error
		vector, err = x.embed(ctx, "store", content)
		if err != nil {
			return err
		}
	}

	_, err := x.store.UpsertEmbedding(ctx, &store.Embedding{
		ContentID:  contentID,
		SourceKind: sourceKind,
		Content:    content,
		Vector:     vector,
		Metadata:   metadata,
	})
	if err != nil {
		return errors.Wrap(err, "failed to upsert embedding")
	}
	return nil
}

// Search embeds query and returns the closest stored content of sourceKind,
// best first. threshold discards results below that cosine similarity.
func (x *EmbeddingIndex) Search(ctx context.Context, query, sourceKind string, limit int, threshold float32) ([]*store.EmbeddingWithScore, error) {
	vector, err := x.embed(ctx, "search", query)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := x.store.VectorSearch(ctx, &store.VectorSearchOptions{
		SourceKind: sourceKind,
		Vector:     vector,
		Limit:      limit,
		Threshold:  threshold,
	})
	if x.metrics != nil {
		x.metrics.RecordRetrieval("semantic", time.Since(start), len(results), err == nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}
	return results, nil
}

// Delete removes the embedding for (contentID, sourceKind). Deleting a missing
// key is a no-op.
func (x *EmbeddingIndex) Delete(ctx context.Context, contentID int64, sourceKind string) error {
	return x.store.DeleteEmbedding(ctx, contentID, sourceKind)
}

// CleanupOrphaned removes embeddings whose source row no longer exists and
// returns how many were removed.
func (x *EmbeddingIndex) CleanupOrphaned(ctx context.Context) (int64, error) {
	deleted, err := x.store.DeleteOrphanedEmbeddings(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete orphaned embeddings")
	}
	if deleted > 0 {
		slog.Info("removed orphaned embeddings", "count", deleted)
	}
	return deleted, nil
}

// SyncMissing backfills embeddings for workflows that have none, up to
// batchSize rows per call. Workflows recorded while the embedding backend was
// down are repaired here.
func (x *EmbeddingIndex) SyncMissing(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	workflows, err := x.store.FindWorkflowsWithoutEmbedding(ctx, batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list workflows without embedding")
	}
	if len(workflows) == 0 {
		return 0, nil
	}

	synced := 0
	for _, workflow := range workflows {
		content := workflowEmbeddingText(workflow)
		err := x.Store(ctx, workflow.ID, store.SourceKindWorkflow, content, nil, workflowEmbeddingMetadata(workflow))
		if err != nil {
			if IsEmbeddingUnavailable(err) {
				return synced, err
			}
			slog.Warn("failed to backfill workflow embedding", "workflowID", workflow.ID, "err", err)
			continue
		}
		synced++
	}
	slog.Info("backfilled workflow embeddings", "count", synced)
	return synced, nil
}

func (x *EmbeddingIndex) embed(ctx context.Context, operation, text string) ([]float32, error) {
	if x.embedder == nil {
		return nil, embeddingUnavailable(errors.New("no embedding service configured"))
	}
	start := time.Now()
	vector, err := x.embedder.Embed(ctx, text)
	if x.metrics != nil {
		x.metrics.RecordEmbedding(operation, time.Since(start), err == nil)
	}
	if err != nil {
		return nil, embeddingUnavailable(err)
	}
	return vector, nil
}

// workflowEmbeddingText is the canonical text a workflow is indexed under.
func workflowEmbeddingText(workflow *store.Workflow) string {
	if workflow.Summary == "" {
		return workflow.OriginalPrompt
	}
	return workflow.OriginalPrompt + " " + workflow.Summary
}

func workflowEmbeddingMetadata(workflow *store.Workflow) map[string]any {
	return map[string]any{
		"category":    workflow.Category,
		"intent_type": workflow.IntentType,
		"keywords":    strings.Join(workflow.Keywords, ","),
	}
}
