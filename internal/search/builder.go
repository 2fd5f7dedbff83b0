// Package search assembles the per-request SearchContext: a bounded,
// deduplicated bundle of stored entities that grounds every generated
// response. Retrieval runs in passes (semantic, hint, enrichment) whose
// results are merged, deduplicated, and trimmed to a token budget.
package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/sage/internal/config"
	"github.com/scrypster/sage/internal/dataaccess"
	"github.com/scrypster/sage/internal/intent"
	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// ContextBuilder runs the context-assembly pipeline against the facade.
type ContextBuilder struct {
	data *dataaccess.Facade
	cfg  config.SearchConfig
	now  func() time.Time
}

// NewContextBuilder creates a builder with the given tuning.
func NewContextBuilder(data *dataaccess.Facade, cfg config.SearchConfig) *ContextBuilder {
	return &ContextBuilder{data: data, cfg: cfg, now: time.Now}
}

// candidate is one retrieved entity before merge and trim.
type candidate struct {
	entity *types.Entity
	pass   types.RetrievalPass
	score  float64
}

// SearchForTask assembles the context for one user message. Every stage
// degrades rather than fails: a down vector index or an empty pass narrows
// the context and adds a warning, it never errors the request.
func (b *ContextBuilder) SearchForTask(ctx context.Context, message string, taskIntent types.Intent) (*types.SearchContext, error) {
	if taskIntent == "" {
		taskIntent = intent.Classify(message)
	}
	hints := intent.ExtractHints(message)

	var candidates []candidate
	var warnings []string

	// Semantic pass, scoped to the free-text record types.
	vres, err := b.data.VectorSearch(ctx, message, storage.VectorQueryOptions{
		EntityTypes: semanticTypes(taskIntent),
		Limit:       b.cfg.SemanticLimit,
		Threshold:   b.cfg.SemanticThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search: semantic pass: %w", err)
	}
	warnings = append(warnings, vres.Warnings...)
	for _, hit := range vres.Hits {
		candidates = append(candidates, candidate{entity: hit.Entity, pass: types.PassSemantic, score: hit.Score})
	}

	// Hint pass: exact lookups plus one-hop graph expansion from matched
	// contacts. Runs even when semantic search is degraded.
	hintEntities := b.expandHints(ctx, hints)
	for _, e := range hintEntities {
		candidates = append(candidates, candidate{entity: e, pass: types.PassHint})
	}

	// Enrichment pass: intent-specific structured queries.
	enriched := b.enrich(ctx, taskIntent)
	for _, e := range enriched {
		candidates = append(candidates, candidate{entity: e, pass: types.PassEnrichment})
	}

	sc := b.assemble(candidates, warnings)
	sc.TemporalSummary = b.temporalSummary(ctx)
	return sc, nil
}

// expandHints resolves each hint to entities: addresses and names map to
// contacts, then one hop of reverse edges pulls in the mail, follow-ups,
// and meetings attached to those contacts. Quoted phrases match subjects.
func (b *ContextBuilder) expandHints(ctx context.Context, hints intent.Hints) []*types.Entity {
	if hints.Empty() {
		return nil
	}
	limit := b.cfg.HintLimit
	if limit < 1 {
		limit = 5
	}

	var out []*types.Entity
	var anchors []*types.Entity

	for _, addr := range hints.Emails {
		anchors = append(anchors, b.queryQuiet(ctx, storage.QueryOptions{
			EntityType: types.EntityTypeContact,
			Filters:    []storage.Filter{storage.Eq("structured.email", addr)},
			Limit:      limit,
		})...)
	}
	for _, name := range hints.Names {
		anchors = append(anchors, b.queryQuiet(ctx, storage.QueryOptions{
			EntityType: types.EntityTypeContact,
			Filters:    []storage.Filter{storage.Eq("structured.name", name)},
			Limit:      limit,
		})...)
	}
	for _, phrase := range hints.Phrases {
		out = append(out, b.queryQuiet(ctx, storage.QueryOptions{
			EntityType: types.EntityTypeEmail,
			Filters:    []storage.Filter{storage.Eq("structured.subject", phrase)},
			Limit:      limit,
		})...)
	}

	out = append(out, anchors...)
	for _, anchor := range anchors {
		related, err := b.data.Traverse(ctx, anchor.ID, storage.TraversalOptions{
			MaxDepth:  1,
			MaxFanOut: limit * 4,
			Reverse:   true, // correspondence edges point at the contact
		})
		if err != nil {
			log.Printf("search: hint expansion from %s: %v", anchor.ID, err)
			continue
		}
		out = append(out, related...)
	}
	return out
}

func (b *ContextBuilder) queryQuiet(ctx context.Context, opts storage.QueryOptions) []*types.Entity {
	res, err := b.data.Query(ctx, opts)
	if err != nil {
		log.Printf("search: structured query (%s): %v", opts.EntityType, err)
		return nil
	}
	return res
}

// assemble merges candidates, records per-entity sources, and trims to the
// token budget.
func (b *ContextBuilder) assemble(candidates []candidate, warnings []string) *types.SearchContext {
	sc := &types.SearchContext{
		Retrieval: types.RetrievalMetadata{
			Sources:  map[string][]types.RetrievalPass{},
			Warnings: warnings,
		},
	}

	// Dedupe, keeping the best pass and score per entity.
	merged := map[string]candidate{}
	var order []string
	for _, c := range candidates {
		if c.entity == nil {
			continue
		}
		id := c.entity.ID
		sc.Retrieval.Sources[id] = appendPass(sc.Retrieval.Sources[id], c.pass)
		existing, ok := merged[id]
		if !ok {
			merged[id] = c
			order = append(order, id)
			continue
		}
		if passPriority(c.pass) < passPriority(existing.pass) {
			existing.pass = c.pass
		}
		if c.score > existing.score {
			existing.score = c.score
		}
		merged[id] = existing
	}

	for _, passes := range sc.Retrieval.Sources {
		for _, p := range passes {
			switch p {
			case types.PassSemantic:
				sc.Retrieval.SemanticCount++
			case types.PassHint:
				sc.Retrieval.HintCount++
			case types.PassEnrichment:
				sc.Retrieval.EnrichmentCount++
			}
		}
	}

	// Trim order: pass priority first (hint > enrichment > semantic), then
	// recency, then score.
	sort.SliceStable(order, func(i, j int) bool {
		a, z := merged[order[i]], merged[order[j]]
		pa, pz := passPriority(a.pass), passPriority(z.pass)
		if pa != pz {
			return pa < pz
		}
		ta, tz := a.entity.EventTime(), z.entity.EventTime()
		if !ta.Equal(tz) {
			return ta.After(tz)
		}
		return a.score > z.score
	})

	budget := b.cfg.TokenBudget
	if budget < 1 {
		budget = 4000
	}
	used := 0
	for i, id := range order {
		c := merged[id]
		summary := Summarize(c.entity, c.score)
		cost := estimateTokens(summary)
		if used+cost > budget {
			// Trim from the tail of the priority order. Packing a smaller
			// low-priority item after refusing a higher-priority one would
			// keep semantic filler at the expense of a hint match.
			sc.Retrieval.TrimmedCount = len(order) - i
			break
		}
		used += cost
		addToBucket(sc, c.entity.EntityType, summary)
	}
	sc.Retrieval.TokenEstimate = used
	return sc
}

// semanticTypes returns the entity types the semantic pass ranks. The base
// scope is the prose-bearing record types; broader intents widen it to
// documents and extracted facts.
func semanticTypes(taskIntent types.Intent) []string {
	base := []string{
		types.EntityTypeEmail,
		types.EntityTypeMeeting,
		types.EntityTypeMemory,
		types.EntityTypeNote,
	}
	switch taskIntent {
	case types.IntentGeneral:
		return append(base, types.EntityTypeDocument, types.EntityTypeFact)
	case types.IntentTodo:
		return append(base, types.EntityTypeFact)
	}
	return base
}

func appendPass(passes []types.RetrievalPass, p types.RetrievalPass) []types.RetrievalPass {
	for _, existing := range passes {
		if existing == p {
			return passes
		}
	}
	return append(passes, p)
}

func passPriority(p types.RetrievalPass) int {
	switch p {
	case types.PassHint:
		return 0
	case types.PassEnrichment:
		return 1
	default:
		return 2
	}
}

func addToBucket(sc *types.SearchContext, entityType string, s types.EntitySummary) {
	switch entityType {
	case types.EntityTypeEmail:
		sc.Emails = append(sc.Emails, s)
	case types.EntityTypeContact:
		sc.Contacts = append(sc.Contacts, s)
	case types.EntityTypeFollowup:
		sc.Followups = append(sc.Followups, s)
	case types.EntityTypeMeeting:
		sc.Meetings = append(sc.Meetings, s)
	case types.EntityTypeEvent:
		sc.Events = append(sc.Events, s)
	default:
		sc.Memories = append(sc.Memories, s)
	}
}

// estimateTokens approximates token cost as len/4: cheap, provider-neutral,
// and biased high enough that trimmed contexts fit real windows.
func estimateTokens(s types.EntitySummary) int {
	n := (len(s.Title) + len(s.Snippet) + len(s.ID)) / 4
	if n < 8 {
		n = 8
	}
	return n
}
