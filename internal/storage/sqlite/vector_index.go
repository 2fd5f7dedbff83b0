package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/sage/internal/storage"
)

// Ensure *Store implements storage.VectorIndex at compile time.
var _ storage.VectorIndex = (*Store)(nil)

// searchMaxCandidates caps the number of embeddings loaded into memory
// per search. Candidates are selected newest first, so recently indexed
// entities are always considered. A single-user corpus stays far below
// this; larger corpora should use the pgvector backend.
const searchMaxCandidates = 10_000

// Upsert stores or replaces the embedding for an entity.
func (s *Store) Upsert(ctx context.Context, rec storage.EmbeddingRecord) error {
	if rec.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if rec.Dimension == 0 {
		rec.Dimension = len(rec.Vector)
	}
	if len(rec.Vector) != rec.Dimension {
		return fmt.Errorf("%w: vector length (%d) does not match dimension (%d)",
			storage.ErrInvalidInput, len(rec.Vector), rec.Dimension)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_id, entity_type, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		rec.EntityID, rec.EntityType, serializeVector(rec.Vector), rec.Dimension, rec.Model, time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: failed to store embedding: %w", err)
	}
	return nil
}

// Search ranks stored embeddings by cosine similarity to the query vector.
// Embeddings are loaded into Go memory and scored in-process; the pool is
// restricted to the requested entity types and excludes superseded and
// soft-deleted entities.
func (s *Store) Search(ctx context.Context, query []float32, opts storage.VectorQueryOptions) ([]storage.ScoredID, error) {
	opts.Normalize()

	if len(query) == 0 {
		return []storage.ScoredID{}, nil
	}

	sqlQuery := `
		SELECT e.entity_id, e.embedding, e.dimension
		FROM embeddings e
		JOIN entities ent ON ent.id = e.entity_id
		WHERE ent.deleted_at IS NULL AND ent.superseded_by IS NULL`
	var args []interface{}

	if len(opts.EntityTypes) > 0 {
		placeholders := make([]string, len(opts.EntityTypes))
		for i, et := range opts.EntityTypes {
			placeholders[i] = "?"
			args = append(args, et)
		}
		sqlQuery += ` AND e.entity_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	sqlQuery += ` ORDER BY ent.created_at DESC LIMIT ?`
	args = append(args, searchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrVectorUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []storage.ScoredID
	for rows.Next() {
		var entityID string
		var blob []byte
		var dim int
		if err := rows.Scan(&entityID, &blob, &dim); err != nil {
			continue
		}
		vec, err := deserializeVector(blob, dim)
		if err != nil {
			continue
		}
		score := cosineSimilarity(query, vec)
		if score < opts.Threshold {
			continue
		}
		candidates = append(candidates, storage.ScoredID{EntityID: entityID, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrVectorUnavailable, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	return candidates, nil
}

// DeleteEmbedding removes the embedding for an entity. Absent embeddings
// are not an error; the entity may be embedding-exempt.
func (s *Store) DeleteEmbedding(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete embedding: %w", err)
	}
	return nil
}

// serializeVector converts a float32 slice to little-endian bytes.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts little-endian bytes back to a float32 slice.
// dimension validates the buffer size.
func deserializeVector(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}

	vec := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
