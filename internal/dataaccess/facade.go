// Package dataaccess provides the single entry point every other component
// uses to touch persistent state. The facade routes writes through the
// embedding policy, serializes same-entity writes, and converts vector-index
// outages into degraded (empty) results instead of failures.
package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/sage/internal/llm"
	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// embeddingExempt lists entity types that are never embedded: they are
// found by exact keys (id, status, due date), not by similarity.
var embeddingExempt = map[string]bool{
	types.EntityTypeContact:  true,
	types.EntityTypeFollowup: true,
	types.EntityTypeEvent:    true,
}

// ScoredEntity is a vector-search hit joined to its entity.
type ScoredEntity struct {
	Entity *types.Entity
	Score  float64
}

// VectorResult carries vector-search hits plus any degradation warnings.
// An unreachable index yields empty hits and a warning, never an error:
// retrieval quality degrades, retrieval itself does not fail.
type VectorResult struct {
	Hits     []ScoredEntity
	Warnings []string
}

// Facade is the storage facade. All reads and writes from the search,
// follow-up, indexer, and orchestrator components go through it.
type Facade struct {
	entities storage.EntityStore
	rels     storage.RelationshipStore
	vectors  storage.VectorIndex
	embedder llm.EmbeddingGenerator

	// locks serializes writes per entity ID so blind upserts (Version 0)
	// from concurrent ingesters cannot interleave read-modify-write.
	locks sync.Map // map[string]*sync.Mutex

	// embedCache caches query embeddings; repeated assistant queries skip
	// the provider round trip.
	embedCache *lru.Cache[string, []float32]
}

// New creates a facade. embedder may be nil in structured-only deployments;
// every vector search then degrades with a warning.
func New(entities storage.EntityStore, rels storage.RelationshipStore, vectors storage.VectorIndex, embedder llm.EmbeddingGenerator, cacheSize int) (*Facade, error) {
	if cacheSize < 1 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: embed cache: %w", err)
	}
	return &Facade{
		entities:   entities,
		rels:       rels,
		vectors:    vectors,
		embedder:   embedder,
		embedCache: cache,
	}, nil
}

func (f *Facade) lockFor(id string) *sync.Mutex {
	mu, _ := f.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store upserts an entity and maintains its embedding per the embedding
// policy. Embedding failure never fails the write: the entity lands in
// structured storage and is findable by key while similarity search
// silently misses it until the next successful write.
func (f *Facade) Store(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("%w: entity required", storage.ErrInvalidInput)
	}

	mu := f.lockFor(entity.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := f.entities.Store(ctx, entity); err != nil {
		return err
	}
	f.maintainEmbedding(ctx, entity)
	return nil
}

func (f *Facade) maintainEmbedding(ctx context.Context, entity *types.Entity) {
	if embeddingExempt[entity.EntityType] || f.embedder == nil || f.vectors == nil {
		return
	}
	text := EmbeddingText(entity)
	if text == "" {
		return
	}
	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("dataaccess: embed %s failed, entity stored without vector: %v", entity.ID, err)
		return
	}
	rec := storage.EmbeddingRecord{
		EntityID:   entity.ID,
		EntityType: entity.EntityType,
		Vector:     vec,
		Dimension:  len(vec),
		Model:      f.embedder.GetModel(),
	}
	if err := f.vectors.Upsert(ctx, rec); err != nil {
		log.Printf("dataaccess: index %s failed: %v", entity.ID, err)
		return
	}
	entity.EmbeddingRef = entity.ID
	if err := f.entities.Store(ctx, entity); err != nil {
		log.Printf("dataaccess: record embedding ref for %s: %v", entity.ID, err)
	}
}

// Update merges a partial structured payload into an existing entity and
// stores the result with a version check, so two concurrent partial updates
// cannot silently overwrite each other. Keys absent from fields keep their
// stored values.
func (f *Facade) Update(ctx context.Context, id string, fields map[string]interface{}) (*types.Entity, error) {
	if id == "" || len(fields) == 0 {
		return nil, fmt.Errorf("%w: id and at least one field required", storage.ErrInvalidInput)
	}

	mu := f.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	entity, err := f.entities.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.Structured == nil {
		entity.Structured = map[string]interface{}{}
	}
	for k, v := range fields {
		entity.Structured[k] = v
	}
	if err := f.entities.Store(ctx, entity); err != nil {
		return nil, err
	}
	f.maintainEmbedding(ctx, entity)
	return entity, nil
}

// Get returns one entity by ID, superseded or not. Point reads always see
// the full record; only queries filter superseded entities.
func (f *Facade) Get(ctx context.Context, id string) (*types.Entity, error) {
	return f.entities.Get(ctx, id)
}

// Query runs a structured query.
func (f *Facade) Query(ctx context.Context, opts storage.QueryOptions) ([]*types.Entity, error) {
	return f.entities.Query(ctx, opts)
}

// Delete soft-deletes an entity and drops its embedding.
func (f *Facade) Delete(ctx context.Context, id string) error {
	mu := f.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := f.entities.Delete(ctx, id); err != nil {
		return err
	}
	if f.vectors != nil {
		if err := f.vectors.DeleteEmbedding(ctx, id); err != nil {
			log.Printf("dataaccess: drop embedding %s: %v", id, err)
		}
	}
	return nil
}

// MarkSuperseded links old -> new supersession pointers. The superseded
// entity stays stored and queryable with IncludeSuperseded.
func (f *Facade) MarkSuperseded(ctx context.Context, oldID, newID string) error {
	mu := f.lockFor(oldID)
	mu.Lock()
	defer mu.Unlock()
	return f.entities.MarkSuperseded(ctx, oldID, newID)
}

// CompareAndSetStatus atomically transitions a follow-up's status.
// Returns false when another writer got there first.
func (f *Facade) CompareAndSetStatus(ctx context.Context, id string, expect, next types.FollowupStatus) (bool, error) {
	return f.entities.CompareAndSetStatus(ctx, id, expect, next)
}

// VectorSearch embeds the query text and searches by similarity. A down
// index or embedder degrades to empty hits plus a warning.
func (f *Facade) VectorSearch(ctx context.Context, query string, opts storage.VectorQueryOptions) (*VectorResult, error) {
	result := &VectorResult{}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query text required", storage.ErrInvalidInput)
	}
	if f.embedder == nil || f.vectors == nil {
		result.Warnings = append(result.Warnings, "semantic search unavailable: no embedding provider")
		return result, nil
	}

	vec, ok := f.embedCache.Get(query)
	if !ok {
		var err error
		vec, err = f.embedder.Embed(ctx, query)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("semantic search unavailable: %v", err))
			return result, nil
		}
		f.embedCache.Add(query, vec)
	}

	scored, err := f.vectors.Search(ctx, vec, opts)
	if err != nil {
		if errors.Is(err, storage.ErrVectorUnavailable) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("semantic search degraded: %v", err))
			return result, nil
		}
		return nil, err
	}

	for _, s := range scored {
		entity, err := f.entities.Get(ctx, s.EntityID)
		if err != nil {
			// Index can briefly lag a delete.
			continue
		}
		result.Hits = append(result.Hits, ScoredEntity{Entity: entity, Score: s.Score})
	}
	return result, nil
}

// CreateRelationship adds a directed edge; duplicates are no-ops.
func (f *Facade) CreateRelationship(ctx context.Context, rel *types.Relationship) error {
	return f.rels.CreateRelationship(ctx, rel)
}

// GetRelationships lists edges touching an entity.
func (f *Facade) GetRelationships(ctx context.Context, entityID string, relTypes []string, reverse bool) ([]*types.Relationship, error) {
	return f.rels.GetRelationships(ctx, entityID, relTypes, reverse)
}

// Traverse walks the relationship graph within the given bounds and
// resolves the reached IDs to entities. Edges can outlive soft-deleted
// endpoints, so unresolvable IDs are skipped rather than failing the walk.
func (f *Facade) Traverse(ctx context.Context, startID string, opts storage.TraversalOptions) ([]*types.Entity, error) {
	ids, err := f.rels.Traverse(ctx, startID, opts)
	if err != nil {
		return nil, err
	}
	entities := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := f.entities.Get(ctx, id)
		if err != nil {
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Close releases the underlying stores.
func (f *Facade) Close() error {
	return f.entities.Close()
}

// EmbeddingText builds the text that represents an entity in vector space:
// the analyzed summary when present, otherwise the salient structured
// fields in a stable order.
func EmbeddingText(entity *types.Entity) string {
	var parts []string
	if entity.Analyzed.Summary != "" {
		parts = append(parts, entity.Analyzed.Summary)
	}

	keys := make([]string, 0, len(entity.Structured))
	for k := range entity.Structured {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "subject", "title", "body", "content", "statement", "description", "notes":
			if v, ok := entity.Structured[k].(string); ok && v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
