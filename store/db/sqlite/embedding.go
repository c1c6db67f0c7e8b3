package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/store"
)

// Vectors are stored as little-endian float32 BLOBs. Similarity is computed in
// the application layer with a linear scan over the source kind, which is
// adequate for a single deployment's workflow history.

// float32ArrayToBLOB converts a []float32 to its BLOB representation.
func float32ArrayToBLOB(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

// blobToFloat32Array converts a BLOB back to a float32 array.
func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid vector BLOB length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func (d *DB) UpsertEmbedding(ctx context.Context, embedding *store.Embedding) (*store.Embedding, error) {
	metadataJSON, err := marshalJSON(embedding.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	stmt := `
		INSERT INTO embedding (content_id, source_kind, content, embedding, metadata, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id, source_kind) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts`

	err = d.db.QueryRowContext(ctx, stmt,
		embedding.ContentID,
		embedding.SourceKind,
		embedding.Content,
		float32ArrayToBLOB(embedding.Vector),
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
		where, args = append(where, "content_id = ?"), append(args, *find.ContentID)
	}
	if find.SourceKind != nil {
		where, args = append(where, "source_kind = ?"), append(args, *find.SourceKind)
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
		var vectorBLOB []byte
		var metadataJSON sql.NullString

		err := rows.Scan(
			&embedding.ID,
			&embedding.ContentID,
			&embedding.SourceKind,
			&embedding.Content,
			&vectorBLOB,
			&metadataJSON,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan embedding")
		}

		embedding.Vector, err = blobToFloat32Array(vectorBLOB)
		if err != nil {
			return nil, err
		}
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
	stmt := `DELETE FROM embedding WHERE content_id = ? AND source_kind = ?`
	if _, err := d.db.ExecContext(ctx, stmt, contentID, sourceKind); err != nil {
		return errors.Wrap(err, "failed to delete embedding")
	}
	return nil
}

func (d *DB) DeleteOrphanedEmbeddings(ctx context.Context) (int64, error) {
	stmt := `
		DELETE FROM embedding
		WHERE source_kind = ?
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

// VectorSearch performs cosine similarity search with an application-layer scan.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.EmbeddingWithScore, error) {
	candidates, err := d.ListEmbeddings(ctx, &store.FindEmbedding{SourceKind: &opts.SourceKind})
	if err != nil {
		return nil, err
	}

	results := []*store.EmbeddingWithScore{}
	for _, candidate := range candidates {
		similarity := cosineSimilarity(opts.Vector, candidate.Vector)
		if similarity < opts.Threshold {
			continue
		}
		results = append(results, &store.EmbeddingWithScore{
			ContentID: candidate.ContentID,
			Content:   candidate.Content,
			Metadata:  candidate.Metadata,
			Score:     similarity,
		})
	}

	// Similarity descending, content id ascending on ties for a deterministic order.
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

// KeywordSearch performs keyword matching with LIKE terms. SQLite does not get
// BM25 full-text search here; the rank metric is derived from the number of
// matched keywords and keeps the lower-is-better convention.
func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.KeywordMatch, error) {
	scoreParts := []string{}
	conditions := []string{}
	args := []any{}
	for _, keyword := range opts.Keywords {
		escaped := strings.ReplaceAll(strings.ReplaceAll(keyword, "%", "\\%"), "_", "\\_")
		pattern := "%" + escaped + "%"
		scoreParts = append(scoreParts, "(CASE WHEN content LIKE ? THEN 1 ELSE 0 END)")
		args = append(args, pattern)
		conditions = append(conditions, "content LIKE ?")
	}

	query := `
		SELECT content_id, (` + strings.Join(scoreParts, " + ") + `) AS score
		FROM embedding
		WHERE source_kind = ?
			AND (` + strings.Join(conditions, " OR ") + `)
		ORDER BY score DESC, content_id ASC
		LIMIT ?`

	args = append(args, opts.SourceKind)
	for _, keyword := range opts.Keywords {
		escaped := strings.ReplaceAll(strings.ReplaceAll(keyword, "%", "\\%"), "_", "\\_")
		args = append(args, "%"+escaped+"%")
	}
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to keyword search embeddings")
	}
	defer rows.Close()

	matches := []*store.KeywordMatch{}
	for rows.Next() {
		var contentID int64
		var score float64
		if err := rows.Scan(&contentID, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan keyword match")
		}
		// More matched keywords rank better (lower).
		matches = append(matches, &store.KeywordMatch{
			ContentID: contentID,
			Rank:      1.0 / (1.0 + score),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return matches, nil
}
