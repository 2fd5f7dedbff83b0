package search

import (
	"strings"

	"github.com/scrypster/sage/pkg/types"
)

const snippetMax = 280

// Summarize renders an entity into the compact form contexts carry. The
// title comes from the payload field that names the entity; the snippet
// prefers the analyzed summary over raw body text.
func Summarize(entity *types.Entity, score float64) types.EntitySummary {
	s := types.EntitySummary{
		ID:         entity.ID,
		EntityType: entity.EntityType,
		Timestamp:  entity.EventTime(),
		Score:      score,
	}

	for _, key := range []string{"subject", "name", "title", "statement"} {
		if v := entity.StructuredString(key); v != "" {
			s.Title = v
			break
		}
	}
	if s.Title == "" {
		s.Title = entity.ID
	}

	snippet := entity.Analyzed.Summary
	if snippet == "" {
		for _, key := range []string{"body", "content", "description", "notes"} {
			if v := entity.StructuredString(key); v != "" {
				snippet = v
				break
			}
		}
	}
	s.Snippet = truncate(strings.TrimSpace(snippet), snippetMax)
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
