package types

import "time"

// Relationship represents a directed typed edge between two entity IDs.
// Relationships are not required to be symmetric; traversal code must
// explicitly request reverse edges if it needs them. The graph may
// legitimately contain cycles (e.g. two memories mutually referencing
// each other through correction chains), so traversal is always bounded
// by max depth and max fan-out.
type Relationship struct {
	ID     string `json:"id"`      // Unique identifier (format: rel_<uuid>)
	FromID string `json:"from_id"` // Source entity ID
	ToID   string `json:"to_id"`   // Target entity ID
	Type   string `json:"type"`    // One of the Rel* constants

	CreatedAt time.Time `json:"created_at"`

	// Metadata carries edge-specific context (e.g. supersession reason).
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
