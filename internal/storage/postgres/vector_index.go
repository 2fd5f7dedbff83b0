package postgres

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/sage/internal/storage"
)

// VectorIndex stores embeddings in the embeddings table using the pgvector
// extension. When the extension is missing the index reports every search
// as ErrVectorUnavailable so the facade can degrade to structured-only
// retrieval instead of failing the request.
type VectorIndex struct {
	store     *Store
	available bool
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex prepares the pgvector column and index on the store's
// connection. A missing extension is not fatal.
func NewVectorIndex(store *Store) *VectorIndex {
	idx := &VectorIndex{store: store}

	if _, err := store.db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		log.Printf("postgres: pgvector extension unavailable, similarity search disabled: %v", err)
		return idx
	}
	if _, err := store.db.Exec(pgvectorSchema); err != nil {
		log.Printf("postgres: pgvector schema failed, similarity search disabled: %v", err)
		return idx
	}
	idx.available = true
	return idx
}

// Upsert writes or replaces the embedding for an entity.
func (v *VectorIndex) Upsert(ctx context.Context, rec storage.EmbeddingRecord) error {
	if rec.EntityID == "" || len(rec.Vector) == 0 {
		return fmt.Errorf("%w: embedding needs entity id and vector", storage.ErrInvalidInput)
	}
	if !v.available {
		return fmt.Errorf("%w: pgvector extension missing", storage.ErrVectorUnavailable)
	}

	_, err := v.store.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_id, entity_type, dimension, model, updated_at, embedding_vec)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (entity_id) DO UPDATE SET
		    entity_type   = EXCLUDED.entity_type,
		    dimension     = EXCLUDED.dimension,
		    model         = EXCLUDED.model,
		    updated_at    = EXCLUDED.updated_at,
		    embedding_vec = EXCLUDED.embedding_vec`,
		rec.EntityID, rec.EntityType, len(rec.Vector), rec.Model,
		time.Now().UTC(), pgvector.NewVector(rec.Vector))
	if err != nil {
		return fmt.Errorf("postgres: upsert embedding %s: %w", rec.EntityID, err)
	}
	return nil
}

// Search returns entity IDs scored by cosine similarity, best first.
// Deleted and superseded entities never surface. Any backend failure is
// wrapped in ErrVectorUnavailable.
func (v *VectorIndex) Search(ctx context.Context, query []float32, opts storage.VectorQueryOptions) ([]storage.ScoredID, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector required", storage.ErrInvalidInput)
	}
	if !v.available {
		return nil, fmt.Errorf("%w: pgvector extension missing", storage.ErrVectorUnavailable)
	}
	opts.Normalize()

	// <=> is cosine distance; similarity = 1 - distance.
	args := []interface{}{pgvector.NewVector(query)}
	sql := `
		SELECT emb.entity_id, 1 - (emb.embedding_vec <=> $1) AS similarity
		FROM embeddings emb
		JOIN entities ent ON ent.id = emb.entity_id
		WHERE ent.deleted_at IS NULL
		  AND ent.superseded_by IS NULL
		  AND emb.embedding_vec IS NOT NULL`

	if len(opts.EntityTypes) > 0 {
		marks := make([]string, len(opts.EntityTypes))
		for i, t := range opts.EntityTypes {
			args = append(args, t)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		sql += fmt.Sprintf(" AND emb.entity_type IN (%s)", strings.Join(marks, ", "))
	}
	if opts.Threshold > 0 {
		args = append(args, 1-opts.Threshold)
		sql += fmt.Sprintf(" AND (emb.embedding_vec <=> $1) <= $%d", len(args))
	}
	args = append(args, opts.Limit)
	sql += fmt.Sprintf(" ORDER BY emb.embedding_vec <=> $1 LIMIT $%d", len(args))

	rows, err := v.store.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrVectorUnavailable, err)
	}
	defer rows.Close()

	var out []storage.ScoredID
	for rows.Next() {
		var s storage.ScoredID
		if err := rows.Scan(&s.EntityID, &s.Score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", storage.ErrVectorUnavailable, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrVectorUnavailable, err)
	}
	return out, nil
}

// DeleteEmbedding removes the embedding for an entity. Deleting an absent
// embedding is not an error.
func (v *VectorIndex) DeleteEmbedding(ctx context.Context, entityID string) error {
	if !v.available {
		return nil
	}
	_, err := v.store.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("postgres: delete embedding %s: %w", entityID, err)
	}
	return nil
}
