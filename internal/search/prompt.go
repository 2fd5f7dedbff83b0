package search

import (
	"fmt"
	"strings"

	"github.com/scrypster/sage/pkg/types"
)

// PromptFromContext renders a SearchContext into the grounding block of a
// model prompt. Only entities inside the context are rendered; the model is
// instructed to answer from this block and to say so when it cannot. An
// empty context yields an explicit "no stored information" block rather
// than an empty string, so the model never free-associates.
func PromptFromContext(message string, sc *types.SearchContext) string {
	var b strings.Builder

	b.WriteString("You are Sage, a personal assistant. Answer using ONLY the stored information below. ")
	b.WriteString("If the information needed is not present, say you don't have it. Never invent entities, dates, or quotes.\n\n")

	if sc.Size() == 0 {
		b.WriteString("=== STORED INFORMATION ===\n(none found for this request)\n\n")
	} else {
		b.WriteString("=== STORED INFORMATION ===\n")
		writeSection(&b, "Emails", sc.Emails)
		writeSection(&b, "Contacts", sc.Contacts)
		writeSection(&b, "Follow-ups", sc.Followups)
		writeSection(&b, "Meetings", sc.Meetings)
		writeSection(&b, "Events", sc.Events)
		writeSection(&b, "Memories and facts", sc.Memories)
		b.WriteString("\n")
	}

	if sc.TemporalSummary != "" {
		fmt.Fprintf(&b, "Recent activity: %s\n\n", sc.TemporalSummary)
	}
	if len(sc.Retrieval.Warnings) > 0 {
		fmt.Fprintf(&b, "Note: retrieval was degraded (%s); stored information may be incomplete.\n\n",
			strings.Join(sc.Retrieval.Warnings, "; "))
	}

	fmt.Fprintf(&b, "=== USER MESSAGE ===\n%s\n", message)
	return b.String()
}

// ContextDigest renders just the stored-information sections of a context,
// without the prompt scaffolding. Used for degraded replies that show the
// user what retrieval found when the model is unreachable.
func ContextDigest(sc *types.SearchContext) string {
	var b strings.Builder
	writeSection(&b, "Emails", sc.Emails)
	writeSection(&b, "Contacts", sc.Contacts)
	writeSection(&b, "Follow-ups", sc.Followups)
	writeSection(&b, "Meetings", sc.Meetings)
	writeSection(&b, "Events", sc.Events)
	writeSection(&b, "Memories and facts", sc.Memories)
	if sc.TemporalSummary != "" {
		fmt.Fprintf(&b, "\nRecent activity: %s\n", sc.TemporalSummary)
	}
	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, heading string, items []types.EntitySummary) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for _, item := range items {
		line := "- [" + item.ID + "] " + item.Title
		if !item.Timestamp.IsZero() {
			line += " (" + item.Timestamp.Format("2006-01-02") + ")"
		}
		b.WriteString(line + "\n")
		if item.Snippet != "" && item.Snippet != item.Title {
			fmt.Fprintf(b, "  %s\n", item.Snippet)
		}
	}
}
