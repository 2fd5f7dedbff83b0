// Package intent classifies user messages and extracts entity hints. Both
// operations are pure keyword/pattern functions: they run on every message,
// so they must be fast, deterministic, and independent of any LLM.
package intent

import (
	"sort"
	"strings"

	"github.com/scrypster/sage/pkg/types"
)

// minScore is the score a candidate intent must reach before it beats the
// general fallback. A single weak keyword is not enough to narrow context.
const minScore = 2

// intentKeywords maps each intent to weighted trigger phrases. Longer,
// more specific phrases carry more weight than single words.
var intentKeywords = map[types.Intent][]weightedKeyword{
	types.IntentEmail: {
		{"email", 2}, {"e-mail", 2}, {"inbox", 2}, {"reply", 2},
		{"respond", 2}, {"draft", 2}, {"send", 1}, {"message", 1},
		{"wrote", 1}, {"write back", 3}, {"compose", 2},
	},
	types.IntentFollowup: {
		{"follow up", 3}, {"follow-up", 3}, {"followup", 3},
		{"waiting on", 3}, {"waiting for", 3}, {"heard back", 3},
		{"chase", 2}, {"remind", 2}, {"reminder", 2}, {"overdue", 2},
		{"still pending", 3}, {"no response", 3},
	},
	types.IntentMeeting: {
		{"meeting", 2}, {"meet", 1}, {"schedule", 2}, {"calendar", 2},
		{"appointment", 2}, {"call", 1}, {"reschedule", 3},
		{"availability", 2}, {"free time", 2}, {"agenda", 2},
	},
	types.IntentContact: {
		{"who is", 3}, {"contact", 2}, {"phone number", 3},
		{"email address", 3}, {"reach", 1}, {"details for", 2},
		{"work for", 2}, {"works at", 2},
	},
	types.IntentTodo: {
		{"todo", 3}, {"to-do", 3}, {"task", 2}, {"deadline", 2},
		{"due", 1}, {"need to", 2}, {"don't forget", 3}, {"checklist", 2},
	},
}

type weightedKeyword struct {
	phrase string
	weight int
}

// Classify returns the intent whose keywords best match the message.
// Ties and low scores fall back to IntentGeneral: broader context is safer
// than an arbitrary specific intent.
func Classify(message string) types.Intent {
	lower := strings.ToLower(message)

	scores := map[types.Intent]int{}
	for intent, keywords := range intentKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw.phrase) {
				scores[intent] += kw.weight
			}
		}
	}

	best := types.IntentGeneral
	bestScore := 0
	tied := false
	// Deterministic iteration so ties resolve the same way every run.
	ordered := make([]types.Intent, 0, len(scores))
	for intent := range scores {
		ordered = append(ordered, intent)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, intent := range ordered {
		switch {
		case scores[intent] > bestScore:
			best, bestScore, tied = intent, scores[intent], false
		case scores[intent] == bestScore && bestScore > 0:
			tied = true
		}
	}

	if bestScore < minScore || tied {
		return types.IntentGeneral
	}
	return best
}
