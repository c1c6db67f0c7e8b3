package store

import (
	"context"

	"github.com/pkg/errors"
)

// SourceKindWorkflow is the source kind under which workflow prompts are
// embedded. The orphan sweep knows how to resolve this kind back to its
// owning table.
const SourceKindWorkflow = "workflow"

// Embedding represents stored text with its vector, keyed by
// (content_id, source_kind). source_kind is the logical table name of the
// embedded entity so the embedding store can serve multiple content types.
type Embedding struct {
	Metadata   map[string]any
	SourceKind string
	Content    string
	Vector     []float32
	ID         int64
	ContentID  int64
	CreatedTs  int64
	UpdatedTs  int64
}

// FindEmbedding specifies the conditions for finding embeddings.
type FindEmbedding struct {
	ContentID  *int64
	SourceKind *string
}

// EmbeddingWithScore is a vector search result.
type EmbeddingWithScore struct {
	Metadata  map[string]any
	Content   string
	ContentID int64
	Score     float32 // cosine similarity in [0, 1], higher is more similar
}

// VectorSearchOptions represents the options for embedding vector search.
type VectorSearchOptions struct {
	SourceKind string
	Vector     []float32
	Limit      int
	Threshold  float32 // results with similarity below this are discarded
}

// Validate validates the VectorSearchOptions.
func (o *VectorSearchOptions) Validate() error {
	if o.SourceKind == "" {
		return errors.New("source kind cannot be empty")
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10 // Default limit
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// KeywordMatch is one full-text match over stored embedding content.
// Rank follows the best-first convention: lower is better, always >= 0.
// Drivers map their native relevance score (FTS5 bm25, ts_rank) onto it.
type KeywordMatch struct {
	ContentID int64
	Rank      float64
}

// KeywordSearchOptions represents the options for full-text keyword search.
type KeywordSearchOptions struct {
	SourceKind string
	Keywords   []string
	Limit      int
}

// Validate validates the KeywordSearchOptions.
func (o *KeywordSearchOptions) Validate() error {
	if o.SourceKind == "" {
		return errors.New("source kind cannot be empty")
	}
	if len(o.Keywords) == 0 {
		return errors.New("keywords cannot be empty")
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return nil
}

// UpsertEmbedding inserts or overwrites the embedding for
// (content_id, source_kind). Writing twice leaves exactly one row.
func (s *Store) UpsertEmbedding(ctx context.Context, embedding *Embedding) (*Embedding, error) {
	return s.driver.UpsertEmbedding(ctx, embedding)
}

// GetEmbedding gets the embedding for (contentID, sourceKind).
// Returns (nil, nil) when it does not exist.
func (s *Store) GetEmbedding(ctx context.Context, contentID int64, sourceKind string) (*Embedding, error) {
	list, err := s.driver.ListEmbeddings(ctx, &FindEmbedding{
		ContentID:  &contentID,
		SourceKind: &sourceKind,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListEmbeddings lists embeddings matching the find condition.
func (s *Store) ListEmbeddings(ctx context.Context, find *FindEmbedding) ([]*Embedding, error) {
	return s.driver.ListEmbeddings(ctx, find)
}

// DeleteEmbedding deletes the embedding for (contentID, sourceKind).
func (s *Store) DeleteEmbedding(ctx context.Context, contentID int64, sourceKind string) error {
	return s.driver.DeleteEmbedding(ctx, contentID, sourceKind)
}

// DeleteOrphanedEmbeddings removes workflow embeddings whose content row no
// longer exists. The embedding table carries no cross-source foreign keys, so
// this sweep is the referential-integrity mechanism.
func (s *Store) DeleteOrphanedEmbeddings(ctx context.Context) (int64, error) {
	return s.driver.DeleteOrphanedEmbeddings(ctx)
}

// VectorSearch performs cosine similarity search over stored vectors.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*EmbeddingWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.VectorSearch(ctx, opts)
}

// KeywordSearch performs full-text search over stored embedding content.
func (s *Store) KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*KeywordMatch, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.KeywordSearch(ctx, opts)
}
