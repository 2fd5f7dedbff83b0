package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that the requested entity or relationship
	// does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict indicates an optimistic concurrency failure:
	// the entity was modified between read and write. Callers retry with
	// a fresh read; the conflict surfaces as a transient error only after
	// retry exhaustion.
	ErrVersionConflict = errors.New("version conflict")

	// ErrTypeConflict indicates that an entity ID already exists with a
	// different entity type. This is a data integrity violation: IDs are
	// deterministic from their natural key, so a type conflict means an
	// ID-generation bug upstream. It must never be silently overwritten.
	ErrTypeConflict = errors.New("entity type conflict")

	// ErrVectorUnavailable indicates the vector index is unreachable.
	// The facade converts this into empty results plus a warning; it is
	// exported so callers can distinguish "no matches" from "degraded".
	ErrVectorUnavailable = errors.New("vector index unavailable")
)

// FilterOp is the comparison operator of a structured-query filter.
type FilterOp string

const (
	OpEq  FilterOp = "eq"  // field = value
	OpIn  FilterOp = "in"  // field IN (values...)
	OpGte FilterOp = "gte" // field >= value
	OpLte FilterOp = "lte" // field <= value
)

// Filter is one condition of a structured query. Fields address either
// entity columns (id, source, created_at, event_time, superseded) or
// structured-payload keys (addressed as "structured.<key>", e.g.
// "structured.status", "structured.due_date").
type Filter struct {
	Field  string
	Op     FilterOp
	Value  interface{}   // for eq/gte/lte
	Values []interface{} // for in
}

// Eq builds an equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In builds a set-membership filter ("status in {pending, reminded}").
func In(field string, values ...interface{}) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Gte builds a lower-bound range filter.
func Gte(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

// Lte builds an upper-bound range filter ("due_date <= now").
func Lte(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpLte, Value: value}
}

// Validate checks the filter for internal consistency.
func (f Filter) Validate() error {
	if f.Field == "" {
		return fmt.Errorf("%w: filter field is required", ErrInvalidInput)
	}
	switch f.Op {
	case OpEq, OpGte, OpLte:
		if f.Value == nil {
			return fmt.Errorf("%w: filter %s needs a value", ErrInvalidInput, f.Op)
		}
	case OpIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("%w: filter in needs at least one value", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown filter op %q", ErrInvalidInput, f.Op)
	}
	return nil
}

// QueryOptions configures a structured query.
type QueryOptions struct {
	// EntityType restricts the query to one entity type ("" = all types).
	EntityType string

	// Filters are ANDed together.
	Filters []Filter

	// Limit caps the number of results (default 50, max 500).
	Limit int

	// SortBy is the sort column: "created_at", "updated_at", or
	// "event_time" (default "event_time" descending).
	SortBy string

	// SortAsc sorts ascending instead of the default descending.
	SortAsc bool

	// IncludeSuperseded includes entities whose metadata carries a
	// superseded_by pointer. The default (false) is the single enforcement
	// point of the supersession invariant: superseded facts never appear
	// in "current truth" reads, but remain queryable for audit.
	IncludeSuperseded bool
}

// Normalize applies defaults and clamps limits.
func (o *QueryOptions) Normalize() {
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"event_time": true,
	}
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "event_time"
	}

	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
}

// VectorQueryOptions configures a similarity search.
type VectorQueryOptions struct {
	// EntityTypes partitions the search; empty means all embedded types.
	EntityTypes []string

	// Limit caps the number of results (default 10, max 100).
	Limit int

	// Threshold is the minimum cosine similarity (0.0-1.0).
	Threshold float64
}

// Normalize applies defaults and clamps limits.
func (o *VectorQueryOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Threshold < 0 {
		o.Threshold = 0
	}
	if o.Threshold > 1 {
		o.Threshold = 1
	}
}

// TraversalOptions bounds relationship-graph walks. The graph may contain
// cycles, so every traversal is capped by depth and fan-out.
type TraversalOptions struct {
	// RelTypes restricts which edge types to follow (empty = all).
	RelTypes []string

	// MaxDepth caps hop count (default 1: the hint-expansion default path;
	// deeper walks are a deliberate request, never the default).
	MaxDepth int

	// MaxFanOut caps edges followed per node (default 20).
	MaxFanOut int

	// Reverse also follows edges pointing at the node. Relationships are
	// directed; reverse traversal is always an explicit request.
	Reverse bool
}

// Normalize applies defaults and clamps bounds.
func (o *TraversalOptions) Normalize() {
	if o.MaxDepth < 1 {
		o.MaxDepth = 1
	}
	if o.MaxDepth > 5 {
		o.MaxDepth = 5
	}
	if o.MaxFanOut < 1 {
		o.MaxFanOut = 20
	}
	if o.MaxFanOut > 100 {
		o.MaxFanOut = 100
	}
}

// EncodeTime formats a time the way structured-payload timestamps must be
// stored for range filters to work: UTC RFC3339 without fractional seconds,
// so lexicographic order equals chronological order.
func EncodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// EmbeddingRecord is a stored vector keyed by entity ID.
type EmbeddingRecord struct {
	EntityID   string
	EntityType string
	Vector     []float32
	Dimension  int
	Model      string
	UpdatedAt  time.Time
}
