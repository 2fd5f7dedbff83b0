package sqlite

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

// Ensure *Store implements storage.RelationshipStore at compile time.
var _ storage.RelationshipStore = (*Store)(nil)

// CreateRelationship inserts a directed edge. Inserting the same
// (from, to, type) triple twice is idempotent; the original edge wins.
func (s *Store) CreateRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return storage.ErrInvalidInput
	}
	if rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("%w: from_id and to_id are required", storage.ErrInvalidInput)
	}
	if !types.IsValidRelationshipType(rel.Type) {
		return fmt.Errorf("%w: unknown relationship type %q", storage.ErrInvalidInput, rel.Type)
	}

	if rel.ID == "" {
		rel.ID = "rel_" + uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	var metadataJSON []byte
	if rel.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(rel.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal relationship metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, rel_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, rel_type) DO NOTHING`,
		rel.ID, rel.FromID, rel.ToID, rel.Type, nullableBytes(metadataJSON), rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create relationship: %w", err)
	}
	return nil
}

// GetRelationships returns edges originating at id (or pointing at it when
// reverse is true), optionally filtered by type.
func (s *Store) GetRelationships(ctx context.Context, id string, relTypes []string, reverse bool) ([]*types.Relationship, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	col := "from_id"
	if reverse {
		col = "to_id"
	}

	query := `SELECT id, from_id, to_id, rel_type, metadata, created_at
		FROM relationships WHERE ` + col + ` = ?`
	args := []interface{}{id}

	if len(relTypes) > 0 {
		placeholders := make([]string, len(relTypes))
		for i, rt := range relTypes {
			placeholders[i] = "?"
			args = append(args, rt)
		}
		query += ` AND rel_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rels []*types.Relationship
	for rows.Next() {
		var rel types.Relationship
		var metadataJSON sql.NullString
		if err := rows.Scan(&rel.ID, &rel.FromID, &rel.ToID, &rel.Type, &metadataJSON, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: relationship scan: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rel.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: relationship metadata: %w", err)
			}
		}
		rels = append(rels, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: relationship rows: %w", err)
	}
	return rels, nil
}

// Traverse walks the edge graph breadth-first from startID under the given
// bounds. The graph may contain cycles (correction chains reference each
// other), so visited tracking plus the depth and fan-out caps keep every
// walk finite.
func (s *Store) Traverse(ctx context.Context, startID string, opts storage.TraversalOptions) ([]string, error) {
	if startID == "" {
		return nil, fmt.Errorf("%w: start ID is required", storage.ErrInvalidInput)
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

// neighbors returns up to MaxFanOut entity IDs one hop from id.
func (s *Store) neighbors(ctx context.Context, id string, opts storage.TraversalOptions) ([]string, error) {
	out, err := s.GetRelationships(ctx, id, opts.RelTypes, false)
	if err != nil {
		return nil, err
	}

	var rels []*types.Relationship
	rels = append(rels, out...)

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
		target := rel.ToID
		if target == id {
			target = rel.FromID
		}
		ids = append(ids, target)
	}
	return ids, nil
}
