package types

import "time"

// RetrievalPass identifies which stage of the context-assembly pipeline
// surfaced an entity. Recorded per entity for observability; also defines
// the priority order for budget trimming (hint > enrichment > semantic).
type RetrievalPass string

const (
	PassHint       RetrievalPass = "hint"
	PassEnrichment RetrievalPass = "enrichment"
	PassSemantic   RetrievalPass = "semantic"
)

// EntitySummary is the trimmed-down rendering of an entity inside a
// SearchContext: enough for prompt assembly, small enough to budget.
type EntitySummary struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	Title      string    `json:"title"`             // subject / name / statement
	Snippet    string    `json:"snippet,omitempty"` // body excerpt or summary
	Timestamp  time.Time `json:"timestamp"`         // event time, used for recency tie-breaks
	Score      float64   `json:"score,omitempty"`   // semantic similarity when applicable
}

// RetrievalMetadata records how a SearchContext was assembled.
type RetrievalMetadata struct {
	SemanticCount   int `json:"semantic_count"`
	HintCount       int `json:"hint_count"`
	EnrichmentCount int `json:"enrichment_count"`

	// TokenEstimate is the heuristic token cost of the retained entities.
	// Always <= the request's max context tokens after trimming.
	TokenEstimate int `json:"token_estimate"`

	// TrimmedCount is how many entities the budget trim dropped.
	TrimmedCount int `json:"trimmed_count"`

	// Sources maps entity ID -> every pass that surfaced it. An entity
	// retrieved by multiple passes appears once in the context but all of
	// its source passes are recorded here.
	Sources map[string][]RetrievalPass `json:"sources,omitempty"`

	// Warnings collects degraded-path notes (vector store unreachable,
	// escalation contact unknown, ...). Partial context is valid context;
	// warnings exist so callers can see what was missing.
	Warnings []string `json:"warnings,omitempty"`
}

// SearchContext is the bounded, deduplicated bundle of entities assembled
// per request. It is never persisted; ownership is exclusively the calling
// request's lifetime. Everything the language model sees comes from here —
// the context is a strict subset of real stored entities, nothing is
// synthesized.
type SearchContext struct {
	Emails    []EntitySummary `json:"emails,omitempty"`
	Contacts  []EntitySummary `json:"contacts,omitempty"`
	Followups []EntitySummary `json:"followups,omitempty"`
	Meetings  []EntitySummary `json:"meetings,omitempty"`
	Events    []EntitySummary `json:"events,omitempty"`
	Memories  []EntitySummary `json:"memories,omitempty"` // memories, facts, notes, documents

	// TemporalSummary is a short natural-language digest of recent
	// activity, produced independently of the retrieval passes.
	TemporalSummary string `json:"temporal_summary,omitempty"`

	Retrieval RetrievalMetadata `json:"retrieval_metadata"`
}

// All returns every entity summary in the context, across all buckets.
func (c *SearchContext) All() []EntitySummary {
	out := make([]EntitySummary, 0,
		len(c.Emails)+len(c.Contacts)+len(c.Followups)+
			len(c.Meetings)+len(c.Events)+len(c.Memories))
	out = append(out, c.Emails...)
	out = append(out, c.Contacts...)
	out = append(out, c.Followups...)
	out = append(out, c.Meetings...)
	out = append(out, c.Events...)
	out = append(out, c.Memories...)
	return out
}

// Size returns the total number of entities in the context.
func (c *SearchContext) Size() int {
	return len(c.Emails) + len(c.Contacts) + len(c.Followups) +
		len(c.Meetings) + len(c.Events) + len(c.Memories)
}

// Contains reports whether an entity with the given ID is in the context.
// Prompt assembly uses this as the grounding check: nothing outside the
// context may reach the model.
func (c *SearchContext) Contains(id string) bool {
	for _, s := range c.All() {
		if s.ID == id {
			return true
		}
	}
	return false
}
