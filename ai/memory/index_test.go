package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UtkarshDeoli/Kite/store"
)

func TestEmbeddingIndex_StoreUpserts(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	index := NewEmbeddingIndex(st, newFakeEmbedder("flight", "hotel"), nil)

	require.NoError(t, index.Store(ctx, 1, store.SourceKindWorkflow, "book a flight", nil, nil))
	require.NoError(t, index.Store(ctx, 1, store.SourceKindWorkflow, "book a hotel", nil, map[string]any{"category": "travel"}))

	// Writing the same key twice replaces, never duplicates.
	require.Len(t, st.embeddings, 1)
	embedded := st.embeddings[embeddingKey{store.SourceKindWorkflow, 1}]
	assert.Equal(t, "book a hotel", embedded.Content)
	assert.Equal(t, "travel", embedded.Metadata["category"])
}

func TestEmbeddingIndex_StorePrecomputedVector(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	// No embedder configured: a supplied vector must be stored as-is.
	index := NewEmbeddingIndex(st, nil, nil)

	err := index.Store(ctx, 1, store.SourceKindWorkflow, "book a flight", []float32{0.5, 0.5}, nil)

	require.NoError(t, err)
	embedded := st.embeddings[embeddingKey{store.SourceKindWorkflow, 1}]
	require.NotNil(t, embedded)
	assert.Equal(t, []float32{0.5, 0.5}, embedded.Vector)
}

func TestEmbeddingIndex_SearchFindsItself(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	index := NewEmbeddingIndex(st, newFakeEmbedder("flight", "hotel", "paris"), nil)

	require.NoError(t, index.Store(ctx, 1, store.SourceKindWorkflow, "book a flight to paris", nil, nil))
	require.NoError(t, index.Store(ctx, 2, store.SourceKindWorkflow, "reserve a hotel room", nil, nil))

	results, err := index.Search(ctx, "book a flight to paris", store.SourceKindWorkflow, 10, 0)

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(1), results[0].ContentID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
}

func TestEmbeddingIndex_SearchThreshold(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	index := NewEmbeddingIndex(st, newFakeEmbedder("flight", "hotel"), nil)

	require.NoError(t, index.Store(ctx, 1, store.SourceKindWorkflow, "book a flight", nil, nil))
	require.NoError(t, index.Store(ctx, 2, store.SourceKindWorkflow, "reserve a hotel", nil, nil))

	results, err := index.Search(ctx, "book a flight", store.SourceKindWorkflow, 10, 0.9)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ContentID)
}

func TestEmbeddingIndex_NoEmbedder(t *testing.T) {
	ctx := context.Background()
	index := NewEmbeddingIndex(newFakeStore(), nil, nil)

	err := index.Store(ctx, 1, store.SourceKindWorkflow, "book a flight", nil, nil)
	require.Error(t, err)
	assert.True(t, IsEmbeddingUnavailable(err))

	_, err = index.Search(ctx, "book a flight", store.SourceKindWorkflow, 10, 0)
	require.Error(t, err)
	assert.True(t, IsEmbeddingUnavailable(err))
}

func TestEmbeddingIndex_EmbedderFailure(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder("flight")
	embedder.err = errEmbedderDown
	index := NewEmbeddingIndex(newFakeStore(), embedder, nil)

	_, err := index.Search(ctx, "book a flight", store.SourceKindWorkflow, 10, 0)

	require.Error(t, err)
	assert.True(t, IsEmbeddingUnavailable(err))
	assert.Contains(t, err.Error(), "embedder down")
}

func TestEmbeddingIndex_Delete(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	index := NewEmbeddingIndex(st, newFakeEmbedder("flight"), nil)

	require.NoError(t, index.Store(ctx, 1, store.SourceKindWorkflow, "book a flight", nil, nil))
	require.NoError(t, index.Delete(ctx, 1, store.SourceKindWorkflow))
	assert.Empty(t, st.embeddings)

	// Deleting a missing key is a no-op.
	require.NoError(t, index.Delete(ctx, 1, store.SourceKindWorkflow))
}

func TestEmbeddingIndex_CleanupOrphaned(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	index := NewEmbeddingIndex(st, newFakeEmbedder("flight"), nil)
	repository := NewWorkflowRepository(st, index, nil)

	workflow, err := repository.Record(ctx, &RecordWorkflowRequest{
		CreatorID:      1,
		OriginalPrompt: "book a flight",
	})
	require.NoError(t, err)
	require.NoError(t, index.Store(ctx, 999, store.SourceKindWorkflow, "stale content", nil, nil))

	deleted, err := index.CleanupOrphaned(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	_, kept := st.embeddings[embeddingKey{store.SourceKindWorkflow, workflow.ID}]
	assert.True(t, kept)
}

func TestEmbeddingIndex_SyncMissing(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight", "hotel")
	index := NewEmbeddingIndex(st, embedder, nil)

	// Record while the embedder is down, leaving rows unindexed.
	embedder.err = errEmbedderDown
	repository := NewWorkflowRepository(st, index, nil)
	first, err := repository.Record(ctx, &RecordWorkflowRequest{CreatorID: 1, OriginalPrompt: "book a flight"})
	require.NoError(t, err)
	second, err := repository.Record(ctx, &RecordWorkflowRequest{CreatorID: 1, OriginalPrompt: "reserve a hotel"})
	require.NoError(t, err)
	require.Empty(t, st.embeddings)

	embedder.err = nil
	synced, err := index.SyncMissing(ctx, 10)

	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.Contains(t, st.embeddings, embeddingKey{store.SourceKindWorkflow, first.ID})
	assert.Contains(t, st.embeddings, embeddingKey{store.SourceKindWorkflow, second.ID})

	// A second sweep has nothing left to do.
	synced, err = index.SyncMissing(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, synced)
}

func TestEmbeddingIndex_SyncMissing_StopsWhenEmbedderDown(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight")
	embedder.err = errEmbedderDown
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)

	_, err := repository.Record(ctx, &RecordWorkflowRequest{CreatorID: 1, OriginalPrompt: "book a flight"})
	require.NoError(t, err)

	synced, err := index.SyncMissing(ctx, 10)

	require.Error(t, err)
	assert.True(t, IsEmbeddingUnavailable(err))
	assert.Zero(t, synced)
}
