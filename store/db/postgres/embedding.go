package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/store"
)

func (d *DB) UpsertEmbedding(ctx context.Context, embedding *store.Embedding) (*store.Embedding, error) {
	metadataJSON, err := marshalJSON(embedding.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	stmt := `
		INSERT INTO embedding (content_id, source_kind, content, embedding, metadata, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (content_id, source_kind)
		DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts`

	vector := pgvector.NewVector(embedding.Vector)
	err = d.db.QueryRowContext(ctx, stmt,
		embedding.ContentID,
		embedding.SourceKind,
		embedding.Content,
		vector,
		metadataJSON,
		now,
		now,
	).Scan(&embedding.ID, &embedding.CreatedTs, &embedding.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert embedding")
	}

	return embedding, nil
}

func (d *DB) ListEmbeddings(ctx context.Context, find *store.FindEmbedding) ([]*store.Embedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ContentID != nil {
		where, args = append(where, "content_id = "+placeholder(len(args)+1)), append(args, *find.ContentID)
	}
	if find.SourceKind != nil {
		where, args = append(where, "source_kind = "+placeholder(len(args)+1)), append(args, *find.SourceKind)
	}

	query := `
		SELECT id, content_id, source_kind, content, embedding, metadata, created_ts, updated_ts
		FROM embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list embeddings")
	}
	defer rows.Close()

	list := []*store.Embedding{}
	for rows.Next() {
		var embedding store.Embedding
		var vector pgvector.Vector
		var metadataJSON sql.NullString

		err := rows.Scan(
			&embedding.ID,
			&embedding.ContentID,
			&embedding.SourceKind,
			&embedding.Content,
			&vector,
			&metadataJSON,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan embedding")
		}

		embedding.Vector = vector.Slice()
		if metadataJSON.Valid {
			if err := unmarshalJSON([]byte(metadataJSON.String), &embedding.Metadata); err != nil {
				return nil, err
			}
		}

		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteEmbedding(ctx context.Context, contentID int64, sourceKind string) error {
	stmt := `DELETE FROM embedding WHERE content_id = $1 AND source_kind = $2`
	if _, err := d.db.ExecContext(ctx, stmt, contentID, sourceKind); err != nil {
		return errors.Wrap(err, "failed to delete embedding")
	}
	return nil
}

func (d *DB) DeleteOrphanedEmbeddings(ctx context.Context) (int64, error) {
	stmt := `
		DELETE FROM embedding
		WHERE source_kind = $1
			AND content_id NOT IN (SELECT id FROM workflow)`
	result, err := d.db.ExecContext(ctx, stmt, store.SourceKindWorkflow)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete orphaned embeddings")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get affected rows")
	}
	return rowsAffected, nil
}

// VectorSearch performs cosine similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity), so
// ordering by distance ascending yields the most similar rows first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.EmbeddingWithScore, error) {
	query := `
		SELECT
			content_id, content, metadata,
			1 - (embedding <=> $1) AS score
		FROM embedding
		WHERE source_kind = $2
			AND 1 - (embedding <=> $3) >= $4
		ORDER BY score DESC, content_id ASC
		LIMIT $5`

	vector := pgvector.NewVector(opts.Vector)
	rows, err := d.db.QueryContext(ctx, query, vector, opts.SourceKind, vector, opts.Threshold, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search embeddings")
	}
	defer rows.Close()

	results := []*store.EmbeddingWithScore{}
	for rows.Next() {
		var result store.EmbeddingWithScore
		var metadataJSON sql.NullString

		err := rows.Scan(
			&result.ContentID,
			&result.Content,
			&metadataJSON,
			&result.Score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}

		if metadataJSON.Valid {
			if err := unmarshalJSON([]byte(metadataJSON.String), &result.Metadata); err != nil {
				return nil, err
			}
		}

		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// KeywordSearch performs full-text search with ts_rank. The native rank is
// higher-is-better; it is mapped onto the store's lower-is-better rank metric
// via 1/(1+rank).
func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.KeywordMatch, error) {
	queryText := strings.Join(opts.Keywords, " ")

	query := `
		SELECT
			content_id,
			ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', $1)) AS rank
		FROM embedding
		WHERE source_kind = $2
			AND to_tsvector('simple', content) @@ plainto_tsquery('simple', $3)
		ORDER BY rank DESC, content_id ASC
		LIMIT $4`

	rows, err := d.db.QueryContext(ctx, query, queryText, opts.SourceKind, queryText, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to keyword search embeddings")
	}
	defer rows.Close()

	matches := []*store.KeywordMatch{}
	for rows.Next() {
		var contentID int64
		var rank float64
		if err := rows.Scan(&contentID, &rank); err != nil {
			return nil, errors.Wrap(err, "failed to scan keyword match")
		}
		matches = append(matches, &store.KeywordMatch{
			ContentID: contentID,
			Rank:      1.0 / (1.0 + rank),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return matches, nil
}
