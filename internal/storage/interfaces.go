// Package storage provides composable storage interfaces for the Sage
// assistant core.
//
// The storage layer is split into small, focused interfaces (entity CRUD,
// relationship edges, vector index) that backends implement independently.
// The Data Access Facade in internal/dataaccess composes them and is the
// single path through which the rest of the system reads and writes.
package storage

import (
	"context"

	"github.com/scrypster/sage/pkg/types"
)

// EntityStore provides CRUD and structured queries over entities.
type EntityStore interface {
	// Store creates or updates an entity (upsert semantics keyed on ID).
	// Re-ingesting the same natural key updates in place, never
	// duplicates. Returns ErrTypeConflict if the ID exists with a
	// different entity type, and ErrVersionConflict if the entity's
	// metadata version is stale.
	Store(ctx context.Context, entity *types.Entity) error

	// Get retrieves an entity by ID. Returns ErrNotFound if absent or
	// soft-deleted.
	Get(ctx context.Context, id string) (*types.Entity, error)

	// Query runs a structured query with filters. Superseded entities are
	// excluded unless opts.IncludeSuperseded is set; this is the single
	// enforcement point for the supersession invariant.
	Query(ctx context.Context, opts QueryOptions) ([]*types.Entity, error)

	// Delete soft-deletes an entity. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// MarkSuperseded sets the superseded_by pointer on oldID and the
	// supersedes pointer on newID atomically. Both records persist
	// unchanged otherwise.
	MarkSuperseded(ctx context.Context, oldID, newID string) error

	// CompareAndSetStatus atomically updates structured.status on the
	// entity, but only if the current status equals expect. The requested
	// transition must be valid per the follow-up state machine. Returns
	// (false, nil) when the guard fails. Used for the reply-wins race.
	CompareAndSetStatus(ctx context.Context, id string, expect, next types.FollowupStatus) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// RelationshipStore manages the directed typed edge table.
type RelationshipStore interface {
	// CreateRelationship inserts an edge. Duplicate (from, to, type)
	// triples are idempotent.
	CreateRelationship(ctx context.Context, rel *types.Relationship) error

	// GetRelationships returns edges originating at id, optionally
	// filtered by type. Reverse edges require a separate call with
	// reverse=true; relationships are never assumed symmetric.
	GetRelationships(ctx context.Context, id string, relTypes []string, reverse bool) ([]*types.Relationship, error)

	// Traverse walks the edge graph from startID under the given bounds
	// and returns the IDs of reached entities (excluding the start),
	// deduplicated, in breadth-first discovery order.
	Traverse(ctx context.Context, startID string, opts TraversalOptions) ([]string, error)
}

// VectorIndex provides embedding storage and similarity search,
// partitioned by entity type.
type VectorIndex interface {
	// Upsert stores or replaces the embedding for an entity.
	Upsert(ctx context.Context, rec EmbeddingRecord) error

	// Search returns entity IDs scored by cosine similarity to the query
	// vector, best first, restricted to opts.EntityTypes when set.
	// Returns ErrVectorUnavailable (wrapped) when the index is
	// unreachable; the facade degrades that to empty results + warning.
	Search(ctx context.Context, query []float32, opts VectorQueryOptions) ([]ScoredID, error)

	// DeleteEmbedding removes the embedding for an entity (no error if
	// absent).
	DeleteEmbedding(ctx context.Context, entityID string) error
}

// ScoredID pairs an entity ID with its similarity score.
type ScoredID struct {
	EntityID string
	Score    float64
}
