package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UtkarshDeoli/Kite/store"
)

func seedWorkflow(t *testing.T, repository *WorkflowRepository, creatorID int32, prompt string) *store.Workflow {
	t.Helper()
	workflow, err := repository.Record(context.Background(), &RecordWorkflowRequest{
		CreatorID:      creatorID,
		OriginalPrompt: prompt,
	})
	require.NoError(t, err)
	return workflow
}

func TestHybridRetriever_FindSimilar_LexicalFirst(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("linkedin", "message", "flight", "hotel")
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)
	retriever := NewHybridRetriever(st, index, nil)

	linkedin := seedWorkflow(t, repository, 1, "send a linkedin message to my recruiter")
	seedWorkflow(t, repository, 1, "book a hotel room in rome")

	results, err := retriever.FindSimilar(ctx, 1, "write a linkedin note", nil, 5)

	require.NoError(t, err)
	require.NotEmpty(t, results)
	// Keyword overlap ranks the LinkedIn workflow ahead of anything the
	// vector space alone would surface.
	assert.Equal(t, linkedin.ID, results[0].ID)
}

func TestHybridRetriever_FindSimilar_SemanticFillsRemainder(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight", "hotel", "paris")
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)
	retriever := NewHybridRetriever(st, index, nil)

	flight := seedWorkflow(t, repository, 1, "book a flight to paris")
	hotel := seedWorkflow(t, repository, 1, "reserve a hotel room")

	results, err := retriever.FindSimilar(ctx, 1, "flight and hotel for the trip", nil, 5)

	require.NoError(t, err)
	require.Len(t, results, 2)
	ids := []int64{results[0].ID, results[1].ID}
	assert.Contains(t, ids, flight.ID)
	assert.Contains(t, ids, hotel.ID)
	// No duplicates even though both phases can surface the same workflow.
	assert.NotEqual(t, results[0].ID, results[1].ID)
}

func TestHybridRetriever_FindSimilar_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	repository := NewWorkflowRepository(st, nil, nil)
	retriever := NewHybridRetriever(st, nil, nil)

	for i := 0; i < 6; i++ {
		seedWorkflow(t, repository, 1, "book a flight to paris")
	}

	results, err := retriever.FindSimilar(ctx, 1, "book flight", nil, 3)

	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestHybridRetriever_FindSimilar_LexicalOnlyWithoutIndex(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	repository := NewWorkflowRepository(st, nil, nil)
	retriever := NewHybridRetriever(st, nil, nil)

	flight := seedWorkflow(t, repository, 1, "book a flight to paris")
	seedWorkflow(t, repository, 1, "reserve a hotel room")

	results, err := retriever.FindSimilar(ctx, 1, "flight to rome", nil, 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, flight.ID, results[0].ID)
}

func TestHybridRetriever_FindSimilar_EmbedderDown(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight")
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)
	retriever := NewHybridRetriever(st, index, nil)

	seedWorkflow(t, repository, 1, "book a flight to paris")
	embedder.err = errEmbedderDown

	// No lexical overlap, so the semantic phase runs and its failure is
	// surfaced instead of masquerading as an empty result.
	_, err := retriever.FindSimilar(ctx, 1, "water the garden plants", nil, 5)

	require.Error(t, err)
	assert.True(t, IsEmbeddingUnavailable(err))
}

func TestHybridRetriever_FindSimilar_OtherCreatorsExcluded(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight", "paris")
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)
	retriever := NewHybridRetriever(st, index, nil)

	seedWorkflow(t, repository, 2, "book a flight to paris")

	results, err := retriever.FindSimilar(ctx, 1, "flight to paris", nil, 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridRetriever_HybridSearch(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight", "hotel", "paris")
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)
	retriever := NewHybridRetriever(st, index, nil)

	flight := seedWorkflow(t, repository, 1, "book a flight to paris")
	seedWorkflow(t, repository, 1, "reserve a hotel room")

	results, err := retriever.HybridSearch(ctx, "flight to paris", store.SourceKindWorkflow, 5, 0.7, 0.3)

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, flight.ID, results[0].ContentID)
	assert.Greater(t, results[0].SemanticScore, 0.0)
	assert.Greater(t, results[0].KeywordScore, 0.0)
	assert.InDelta(t,
		results[0].SemanticScore*0.7+results[0].KeywordScore*0.3,
		results[0].CombinedScore, 1e-9)
}

func TestHybridRetriever_HybridSearch_SemanticOnlyWeights(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	embedder := newFakeEmbedder("flight", "hotel", "paris")
	index := NewEmbeddingIndex(st, embedder, nil)
	repository := NewWorkflowRepository(st, index, nil)
	retriever := NewHybridRetriever(st, index, nil)

	seedWorkflow(t, repository, 1, "book a flight to paris")
	seedWorkflow(t, repository, 1, "reserve a hotel room")
	seedWorkflow(t, repository, 1, "book flight and hotel in paris")

	fused, err := retriever.HybridSearch(ctx, "flight to paris", store.SourceKindWorkflow, 5, 1, 0)
	require.NoError(t, err)
	semantic, err := index.Search(ctx, "flight to paris", store.SourceKindWorkflow, 10, 0)
	require.NoError(t, err)

	// With the keyword weight zeroed, fused ordering of semantically found
	// content matches the pure semantic ranking.
	require.True(t, len(fused) >= len(semantic))
	for i, hit := range semantic {
		assert.Equal(t, hit.ContentID, fused[i].ContentID)
	}
}

func TestFilterByKeywordOverlap(t *testing.T) {
	first := &store.Workflow{ID: 1, Keywords: []string{"flight", "paris"}}
	second := &store.Workflow{ID: 2, Keywords: []string{"hotel"}}
	third := &store.Workflow{ID: 3, Keywords: []string{"flight"}}

	got := filterByKeywordOverlap([]*store.Workflow{first, second, third}, []string{"flight"})

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)

	assert.Nil(t, filterByKeywordOverlap([]*store.Workflow{first}, nil))
}

func TestMergeLexicalSemantic(t *testing.T) {
	a := &store.Workflow{ID: 1}
	b := &store.Workflow{ID: 2}
	c := &store.Workflow{ID: 3}

	tests := []struct {
		name     string
		lexical  []*store.Workflow
		semantic []*store.Workflow
		limit    int
		wantIDs  []int64
	}{
		{"lexical leads", []*store.Workflow{a}, []*store.Workflow{b}, 5, []int64{1, 2}},
		{"duplicates dropped", []*store.Workflow{a, b}, []*store.Workflow{b, c}, 5, []int64{1, 2, 3}},
		{"limit cuts semantic tail", []*store.Workflow{a}, []*store.Workflow{b, c}, 2, []int64{1, 2}},
		{"limit cuts lexical too", []*store.Workflow{a, b, c}, nil, 2, []int64{1, 2}},
		{"both empty", nil, nil, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeLexicalSemantic(tt.lexical, tt.semantic, tt.limit)
			var ids []int64
			for _, workflow := range got {
				ids = append(ids, workflow.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFuseRankings(t *testing.T) {
	semantic := []*store.EmbeddingWithScore{
		{ContentID: 1, Score: 0.9},
		{ContentID: 2, Score: 0.5},
	}
	keyword := []*store.KeywordMatch{
		{ContentID: 2, Rank: 0}, // perfect keyword hit, maps to score 1
		{ContentID: 3, Rank: 1}, // maps to score 0.5
	}

	got := fuseRankings(semantic, keyword, 0.7, 0.3, 10)

	require.Len(t, got, 3)
	// id 2: 0.5*0.7 + 1*0.3 = 0.65 beats id 1: 0.9*0.7 = 0.63.
	assert.Equal(t, int64(2), got[0].ContentID)
	assert.InDelta(t, 0.65, got[0].CombinedScore, 1e-6)
	assert.Equal(t, int64(1), got[1].ContentID)
	assert.InDelta(t, 0.63, got[1].CombinedScore, 1e-6)
	assert.Equal(t, int64(3), got[2].ContentID)
	assert.Zero(t, got[2].SemanticScore)
}

func TestFuseRankings_TieBreaksByContentID(t *testing.T) {
	semantic := []*store.EmbeddingWithScore{
		{ContentID: 9, Score: 0.5},
		{ContentID: 3, Score: 0.5},
	}

	got := fuseRankings(semantic, nil, 1, 0, 10)

	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ContentID)
	assert.Equal(t, int64(9), got[1].ContentID)
}

func TestFuseRankings_Limit(t *testing.T) {
	semantic := []*store.EmbeddingWithScore{
		{ContentID: 1, Score: 0.9},
		{ContentID: 2, Score: 0.8},
		{ContentID: 3, Score: 0.7},
	}

	got := fuseRankings(semantic, nil, 1, 0, 2)

	assert.Len(t, got, 2)
}
