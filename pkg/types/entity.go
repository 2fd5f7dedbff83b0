package types

import "time"

// Entity is the universal unit of storage. Emails, contacts, follow-ups,
// meetings, events, memories, and facts are all entities with a typed
// structured payload and derived annotations.
type Entity struct {
	// Core identification fields
	ID         string `json:"id"`          // Stable, type-prefixed, deterministic from the natural key
	EntityType string `json:"entity_type"` // One of the EntityType constants
	Source     string `json:"source"`      // Origin system (e.g. "gmail", "fireflies", "conversation")

	// Structured is the typed payload specific to the entity type
	// (subject/body/thread for emails, name/email/company for contacts,
	// statement/fact_type/confidence for facts, ...).
	Structured map[string]interface{} `json:"structured,omitempty"`

	// Analyzed holds derived, AI-produced annotations.
	Analyzed Analysis `json:"analyzed"`

	// Relationships is a denormalized cache of related entity IDs.
	// The relationship edge table is authoritative; this exists so context
	// assembly can show related IDs without a graph query.
	Relationships []string `json:"relationships,omitempty"`

	// EmbeddingRef points into the vector index ("" when the type is
	// embedding-exempt or the embedding has not been generated yet).
	EmbeddingRef string `json:"embedding_ref,omitempty"`

	// Metadata carries timestamps, version, and supersession pointers.
	Metadata EntityMetadata `json:"metadata"`
}

// Analysis holds derived annotations produced at ingest or enrichment time.
type Analysis struct {
	Category string   `json:"category,omitempty"` // Primary category (e.g. "work", "personal")
	Priority string   `json:"priority,omitempty"` // Priority level (critical, high, medium, low)
	Summary  string   `json:"summary,omitempty"`  // Short summary for context rendering
	FactIDs  []string `json:"fact_ids,omitempty"` // Facts extracted from this entity
}

// EntityMetadata carries bookkeeping shared by all entity types.
type EntityMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Timestamp is when the underlying event occurred (send time for
	// emails, start time for meetings). Falls back to CreatedAt when the
	// source carries no event time.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Version increments on every write. Writers use it as an optimistic
	// concurrency check; a stale version fails the write.
	Version int `json:"version"`

	// Supersession pointers. Both records persist unchanged otherwise:
	// supersession is additive, never destructive.
	SupersededBy string `json:"superseded_by,omitempty"` // ID of the entity that replaced this one
	Supersedes   string `json:"supersedes,omitempty"`    // ID of the entity this one replaced

	// DeletedAt marks a soft delete (nil = live).
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsSuperseded reports whether this entity has been replaced by a newer
// one. Superseded entities are excluded from every "current truth" read
// path but remain queryable for audit.
func (e *Entity) IsSuperseded() bool {
	return e.Metadata.SupersededBy != ""
}

// StructuredString returns the string value of a structured payload field,
// or "" when the field is absent or not a string.
func (e *Entity) StructuredString(key string) string {
	if e.Structured == nil {
		return ""
	}
	if s, ok := e.Structured[key].(string); ok {
		return s
	}
	return ""
}

// EventTime returns the best available event timestamp for recency
// ordering: Metadata.Timestamp when set, otherwise CreatedAt.
func (e *Entity) EventTime() time.Time {
	if !e.Metadata.Timestamp.IsZero() {
		return e.Metadata.Timestamp
	}
	return e.Metadata.CreatedAt
}
