package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/store"
)

// fakeEmbedder derives a deterministic vector from the text so related
// strings land close together: each registered term contributes one axis.
type fakeEmbedder struct {
	terms []string
	err   error
}

func newFakeEmbedder(terms ...string) *fakeEmbedder {
	return &fakeEmbedder{terms: terms}
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	extractor := NewKeywordExtractor(IndexMaxKeywords)
	present := make(map[string]struct{})
	for _, word := range extractor.Extract(text) {
		present[word] = struct{}{}
	}
	vector := make([]float32, len(e.terms)+1)
	for i, term := range e.terms {
		if _, ok := present[term]; ok {
			vector[i] = 1
		}
	}
	vector[len(e.terms)] = 0.1 // shared component so no vector is all-zero
	return vector, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *fakeEmbedder) Dimensions() int { return len(e.terms) + 1 }

// fakeStore is an in-memory store implementing the narrow interfaces the
// memory components consume. Vector search scans with cosine similarity,
// keyword search counts term hits, mirroring the driver contracts.
type fakeStore struct {
	workflows  map[int64]*store.Workflow
	executions []*store.WorkflowExecution
	embeddings map[embeddingKey]*store.Embedding
	nextID     int64
}

type embeddingKey struct {
	sourceKind string
	contentID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows:  make(map[int64]*store.Workflow),
		embeddings: make(map[embeddingKey]*store.Embedding),
		nextID:     1,
	}
}

func (s *fakeStore) CreateWorkflow(_ context.Context, create *store.Workflow) (*store.Workflow, error) {
	workflow := *create
	workflow.ID = s.nextID
	s.nextID++
	workflow.CreatedTs = time.Now().Unix()
	workflow.UpdatedTs = workflow.CreatedTs
	s.workflows[workflow.ID] = &workflow
	return &workflow, nil
}

func (s *fakeStore) GetWorkflow(_ context.Context, id int64) (*store.Workflow, error) {
	workflow, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	copied := *workflow
	return &copied, nil
}

func (s *fakeStore) ListWorkflows(_ context.Context, find *store.FindWorkflow) ([]*store.Workflow, error) {
	var results []*store.Workflow
	for _, workflow := range s.workflows {
		if find.CreatorID != nil && workflow.CreatorID != *find.CreatorID {
			continue
		}
		if find.Category != nil && workflow.Category != *find.Category {
			continue
		}
		if find.IntentType != nil && workflow.IntentType != *find.IntentType {
			continue
		}
		if find.IsTemplate != nil && workflow.IsTemplate != *find.IsTemplate {
			continue
		}
		copied := *workflow
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if find.OrderByPerformance {
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
			if a.SuccessCount != b.SuccessCount {
				return a.SuccessCount > b.SuccessCount
			}
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return a.ID < b.ID
		}
		return a.CreatedTs > b.CreatedTs
	})
	if find.Limit > 0 && len(results) > find.Limit {
		results = results[:find.Limit]
	}
	return results, nil
}

func (s *fakeStore) ApplyWorkflowOutcome(_ context.Context, update *store.UpdateWorkflowOutcome) (bool, error) {
	workflow, ok := s.workflows[update.ID]
	if !ok {
		return false, nil
	}
	if update.WasSuccessful {
		workflow.SuccessCount++
	}
	workflow.TotalCount++
	workflow.SuccessRate = float64(workflow.SuccessCount) / float64(workflow.TotalCount)
	if update.NewSteps != nil {
		workflow.Steps = update.NewSteps
	}
	workflow.UpdatedTs = time.Now().Unix()
	return true, nil
}

func (s *fakeStore) MarkWorkflowTemplate(_ context.Context, id int64, creatorID int32) (bool, error) {
	workflow, ok := s.workflows[id]
	if !ok || workflow.CreatorID != creatorID {
		return false, nil
	}
	workflow.IsTemplate = true
	return true, nil
}

func (s *fakeStore) GetWorkflowStats(_ context.Context, find *store.FindWorkflowStats) (*store.WorkflowStats, error) {
	stats := &store.WorkflowStats{}
	var rateSum float64
	for _, workflow := range s.workflows {
		if find.CreatorID != nil && workflow.CreatorID != *find.CreatorID {
			continue
		}
		if find.Category != nil && workflow.Category != *find.Category {
			continue
		}
		stats.TotalWorkflows++
		if workflow.SuccessRate >= 0.8 {
			stats.SuccessfulWorkflows++
		}
		rateSum += workflow.SuccessRate
	}
	if stats.TotalWorkflows > 0 {
		stats.AverageSuccessRate = rateSum / float64(stats.TotalWorkflows)
	}
	return stats, nil
}

func (s *fakeStore) FindWorkflowsWithoutEmbedding(_ context.Context, limit int) ([]*store.Workflow, error) {
	var results []*store.Workflow
	for _, workflow := range s.workflows {
		if _, ok := s.embeddings[embeddingKey{store.SourceKindWorkflow, workflow.ID}]; ok {
			continue
		}
		copied := *workflow
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *fakeStore) CreateWorkflowExecution(_ context.Context, create *store.WorkflowExecution) (*store.WorkflowExecution, error) {
	execution := *create
	execution.ID = s.nextID
	s.nextID++
	execution.StartedTs = time.Now().Unix()
	if execution.Status == store.WorkflowExecutionStatusCompleted {
		execution.CompletedTs = execution.StartedTs
	}
	s.executions = append(s.executions, &execution)
	copied := execution
	return &copied, nil
}

func (s *fakeStore) ListWorkflowExecutions(_ context.Context, find *store.FindWorkflowExecution) ([]*store.WorkflowExecution, error) {
	var results []*store.WorkflowExecution
	for i := len(s.executions) - 1; i >= 0; i-- {
		execution := s.executions[i]
		if find.WorkflowID != nil && execution.WorkflowID != *find.WorkflowID {
			continue
		}
		if find.UserID != nil && execution.UserID != *find.UserID {
			continue
		}
		copied := *execution
		results = append(results, &copied)
		if find.Limit > 0 && len(results) == find.Limit {
			break
		}
	}
	return results, nil
}

func (s *fakeStore) UpsertEmbedding(_ context.Context, embedding *store.Embedding) (*store.Embedding, error) {
	key := embeddingKey{embedding.SourceKind, embedding.ContentID}
	copied := *embedding
	if existing, ok := s.embeddings[key]; ok {
		copied.ID = existing.ID
		copied.CreatedTs = existing.CreatedTs
	} else {
		copied.ID = s.nextID
		s.nextID++
		copied.CreatedTs = time.Now().Unix()
	}
	copied.UpdatedTs = time.Now().Unix()
	s.embeddings[key] = &copied
	result := copied
	return &result, nil
}

func (s *fakeStore) DeleteEmbedding(_ context.Context, contentID int64, sourceKind string) error {
	delete(s.embeddings, embeddingKey{sourceKind, contentID})
	return nil
}

func (s *fakeStore) DeleteOrphanedEmbeddings(_ context.Context) (int64, error) {
	var deleted int64
	for key := range s.embeddings {
		if key.sourceKind != store.SourceKindWorkflow {
			continue
		}
		if _, ok := s.workflows[key.contentID]; !ok {
			delete(s.embeddings, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeStore) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.EmbeddingWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var results []*store.EmbeddingWithScore
	for key, embedding := range s.embeddings {
		if key.sourceKind != opts.SourceKind {
			continue
		}
		score := cosine(opts.Vector, embedding.Vector)
		if score < opts.Threshold {
			continue
		}
		results = append(results, &store.EmbeddingWithScore{
			ContentID: embedding.ContentID,
			Content:   embedding.Content,
			Metadata:  embedding.Metadata,
			Score:     score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ContentID < results[j].ContentID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *fakeStore) KeywordSearch(_ context.Context, opts *store.KeywordSearchOptions) ([]*store.KeywordMatch, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	extractor := NewKeywordExtractor(IndexMaxKeywords)
	var results []*store.KeywordMatch
	for key, embedding := range s.embeddings {
		if key.sourceKind != opts.SourceKind {
			continue
		}
		stored := make(map[string]struct{})
		for _, word := range extractor.Extract(embedding.Content) {
			stored[word] = struct{}{}
		}
		hits := 0
		for _, keyword := range opts.Keywords {
			if _, ok := stored[keyword]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, &store.KeywordMatch{
			ContentID: embedding.ContentID,
			Rank:      1 / float64(1+hits),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank < results[j].Rank
		}
		return results[i].ContentID < results[j].ContentID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var errEmbedderDown = errors.New("embedder down")
