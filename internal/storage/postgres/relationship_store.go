package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

var _ storage.RelationshipStore = (*Store)(nil)

// CreateRelationship inserts a directed edge. Re-creating an edge that
// already exists (same from/to/type) is a no-op, so ingestion stays
// idempotent.
func (s *Store) CreateRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil || rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("%w: relationship needs from and to ids", storage.ErrInvalidInput)
	}
	if !types.IsValidRelationshipType(rel.Type) {
		return fmt.Errorf("%w: unknown relationship type %q", storage.ErrInvalidInput, rel.Type)
	}
	if rel.ID == "" {
		rel.ID = "rel_" + uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(rel.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal relationship metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, rel_type, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (from_id, to_id, rel_type) DO NOTHING`,
		rel.ID, rel.FromID, rel.ToID, rel.Type, meta, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create relationship %s->%s: %w", rel.FromID, rel.ToID, err)
	}
	return nil
}

// GetRelationships returns the edges touching an entity. With reverse set,
// edges pointing at the entity are returned instead of edges leaving it.
func (s *Store) GetRelationships(ctx context.Context, entityID string, relTypes []string, reverse bool) ([]*types.Relationship, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id required", storage.ErrInvalidInput)
	}

	column := "from_id"
	if reverse {
		column = "to_id"
	}
	args := []interface{}{entityID}
	query := fmt.Sprintf(`SELECT id, from_id, to_id, rel_type, metadata, created_at
		FROM relationships WHERE %s = $1`, column)

	if len(relTypes) > 0 {
		marks := make([]string, len(relTypes))
		for i, t := range relTypes {
			args = append(args, t)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND rel_type IN (%s)", strings.Join(marks, ", "))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get relationships for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// Traverse walks the relationship graph breadth-first from a start entity
// and returns the reached IDs. Cycles are allowed in the data; the visited
// set and the depth/fan-out bounds keep every walk finite.
func (s *Store) Traverse(ctx context.Context, startID string, opts storage.TraversalOptions) ([]string, error) {
	if startID == "" {
		return nil, fmt.Errorf("%w: start id required", storage.ErrInvalidInput)
	}
	opts.Normalize()

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var reached []string

	for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := s.neighbors(ctx, id, opts)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				visited[n] = true
				reached = append(reached, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return reached, nil
}

// neighbors returns up to MaxFanOut entity IDs one hop from id: outgoing
// edge targets, plus incoming edge origins when Reverse is set.
func (s *Store) neighbors(ctx context.Context, id string, opts storage.TraversalOptions) ([]string, error) {
	out, err := s.GetRelationships(ctx, id, opts.RelTypes, false)
	if err != nil {
		return nil, err
	}
	rels := out
	if opts.Reverse {
		in, err := s.GetRelationships(ctx, id, opts.RelTypes, true)
		if err != nil {
			return nil, err
		}
		rels = append(rels, in...)
	}

	var ids []string
	for _, rel := range rels {
		if len(ids) >= opts.MaxFanOut {
			break
		}
		if rel.FromID == id {
			ids = append(ids, rel.ToID)
		} else {
			ids = append(ids, rel.FromID)
		}
	}
	return ids, nil
}

func scanRelationship(rows *sql.Rows) (*types.Relationship, error) {
	var rel types.Relationship
	var meta []byte
	if err := rows.Scan(&rel.ID, &rel.FromID, &rel.ToID, &rel.Type, &meta, &rel.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: scan relationship: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rel.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal relationship metadata: %w", err)
		}
	}
	return &rel, nil
}
