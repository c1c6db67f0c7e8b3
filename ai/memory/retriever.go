package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/ai/metrics"
	"github.com/UtkarshDeoli/Kite/store"
)

// RetrieverStore is the slice of the store the retriever needs.
type RetrieverStore interface {
	ListWorkflows(ctx context.Context, find *store.FindWorkflow) ([]*store.Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error)
	KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.KeywordMatch, error)
}

// semanticSearcher is what the retriever needs from the embedding index.
type semanticSearcher interface {
	Search(ctx context.Context, query, sourceKind string, limit int, threshold float32) ([]*store.EmbeddingWithScore, error)
}

// HybridRetriever finds stored workflows relevant to a new prompt. Lexical
// keyword overlap is consulted first; semantic similarity fills the remainder.
type HybridRetriever struct {
	store     RetrieverStore
	index     semanticSearcher
	extractor *KeywordExtractor
	metrics   *metrics.PrometheusExporter
}

// NewHybridRetriever builds a retriever over st. index may be nil, which
// degrades retrieval to lexical-only. exporter may be nil to disable metrics.
func NewHybridRetriever(st RetrieverStore, index semanticSearcher, exporter *metrics.PrometheusExporter) *HybridRetriever {
	return &HybridRetriever{
		store:     st,
		index:     index,
		extractor: NewQueryKeywordExtractor(),
		metrics:   exporter,
	}
}

// FindSimilar returns up to limit workflows of creatorID relevant to prompt,
// lexical matches first. Candidates are fetched best-performing first, capped
// at twice the limit, and kept when their stored keywords overlap the prompt's.
// When lexical matching alone cannot fill the limit, semantic neighbors of the
// prompt fill the remainder. Results are unique by workflow ID.
func (r *HybridRetriever) FindSimilar(ctx context.Context, creatorID int32, prompt string, category *string, limit int) ([]*store.Workflow, error) {
	if limit <= 0 {
		limit = 5
	}
	start := time.Now()

	candidates, err := r.store.ListWorkflows(ctx, &store.FindWorkflow{
		CreatorID:          &creatorID,
		Category:           category,
		OrderByPerformance: true,
		Limit:              limit * 2,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list candidate workflows")
	}

	queryKeywords := r.extractor.Extract(prompt)
	lexical := filterByKeywordOverlap(candidates, queryKeywords)

	if len(lexical) >= limit || r.index == nil {
		results := lexical
		if len(results) > limit {
			results = results[:limit]
		}
		if r.metrics != nil {
			r.metrics.RecordRetrieval("lexical", time.Since(start), len(results), true)
		}
		return results, nil
	}

	hits, err := r.index.Search(ctx, prompt, store.SourceKindWorkflow, limit, 0)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordRetrieval("hybrid", time.Since(start), 0, false)
		}
		return nil, err
	}
	semantic := make([]*store.Workflow, 0, len(hits))
	for _, hit := range hits {
		workflow, err := r.store.GetWorkflow(ctx, hit.ContentID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get workflow")
		}
		if workflow == nil {
			// Stale embedding, the orphan sweep has not caught up yet.
			continue
		}
		if workflow.CreatorID != creatorID {
			continue
		}
		semantic = append(semantic, workflow)
	}

	results := mergeLexicalSemantic(lexical, semantic, limit)
	if r.metrics != nil {
		r.metrics.RecordRetrieval("hybrid", time.Since(start), len(results), true)
	}
	slog.Debug("retrieved similar workflows", "lexical", len(lexical), "semantic", len(semantic), "returned", len(results))
	return results, nil
}

// HybridResult is one fused retrieval result. A score of zero for either
// component means that phase did not surface the content.
type HybridResult struct {
	Metadata      map[string]any
	Content       string
	ContentID     int64
	SemanticScore float64
	KeywordScore  float64
	CombinedScore float64
}

// HybridSearch runs semantic and keyword search over indexed content of
// sourceKind and fuses both rankings into one weighted list. Each phase is
// capped at twice the limit so a result buried in one ranking can still
// surface through the other.
func (r *HybridRetriever) HybridSearch(ctx context.Context, query, sourceKind string, limit int, semanticWeight, keywordWeight float64) ([]*HybridResult, error) {
	if limit <= 0 {
		limit = 5
	}
	start := time.Now()

	var semantic []*store.EmbeddingWithScore
	if r.index != nil {
		var err error
		semantic, err = r.index.Search(ctx, query, sourceKind, limit*2, 0)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordRetrieval("fusion", time.Since(start), 0, false)
			}
			return nil, err
		}
	}

	var keyword []*store.KeywordMatch
	if queryKeywords := r.extractor.Extract(query); len(queryKeywords) > 0 {
		var err error
		keyword, err = r.store.KeywordSearch(ctx, &store.KeywordSearchOptions{
			SourceKind: sourceKind,
			Keywords:   queryKeywords,
			Limit:      limit * 2,
		})
		if err != nil {
			return nil, errors.Wrap(err, "keyword search failed")
		}
	}

	results := fuseRankings(semantic, keyword, semanticWeight, keywordWeight, limit)
	if r.metrics != nil {
		r.metrics.RecordRetrieval("fusion", time.Since(start), len(results), true)
	}
	return results, nil
}

// filterByKeywordOverlap keeps candidates whose stored keywords share at least
// one term with queryKeywords, preserving candidate order.
func filterByKeywordOverlap(candidates []*store.Workflow, queryKeywords []string) []*store.Workflow {
	if len(queryKeywords) == 0 {
		return nil
	}
	query := make(map[string]struct{}, len(queryKeywords))
	for _, keyword := range queryKeywords {
		query[keyword] = struct{}{}
	}

	var matched []*store.Workflow
	for _, candidate := range candidates {
		for _, keyword := range candidate.Keywords {
			if _, ok := query[keyword]; ok {
				matched = append(matched, candidate)
				break
			}
		}
	}
	return matched
}

// mergeLexicalSemantic concatenates both phases lexical first, dropping
// duplicate workflow IDs, capped at limit.
func mergeLexicalSemantic(lexical, semantic []*store.Workflow, limit int) []*store.Workflow {
	seen := make(map[int64]struct{}, limit)
	merged := make([]*store.Workflow, 0, limit)
	for _, workflow := range append(append([]*store.Workflow{}, lexical...), semantic...) {
		if _, dup := seen[workflow.ID]; dup {
			continue
		}
		seen[workflow.ID] = struct{}{}
		merged = append(merged, workflow)
		if len(merged) == limit {
			break
		}
	}
	return merged
}

// fuseRankings combines a semantic ranking and a keyword ranking into one
// weighted list. Keyword rank follows the lower-is-better convention and is
// mapped onto (0, 1] via 1/(rank+1); content absent from a phase contributes
// zero for it. Ties on the combined score break toward the lower content ID.
func fuseRankings(semantic []*store.EmbeddingWithScore, keyword []*store.KeywordMatch, semanticWeight, keywordWeight float64, limit int) []*HybridResult {
	byID := make(map[int64]*HybridResult, len(semantic)+len(keyword))
	for _, hit := range semantic {
		byID[hit.ContentID] = &HybridResult{
			ContentID:     hit.ContentID,
			Content:       hit.Content,
			Metadata:      hit.Metadata,
			SemanticScore: float64(hit.Score),
		}
	}
	for _, match := range keyword {
		result, ok := byID[match.ContentID]
		if !ok {
			result = &HybridResult{ContentID: match.ContentID}
			byID[match.ContentID] = result
		}
		result.KeywordScore = 1 / (match.Rank + 1)
	}

	results := make([]*HybridResult, 0, len(byID))
	for _, result := range byID {
		result.CombinedScore = result.SemanticScore*semanticWeight + result.KeywordScore*keywordWeight
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].ContentID < results[j].ContentID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
