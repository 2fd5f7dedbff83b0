package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/sage/pkg/types"
)

// TestClassify covers the keyword scoring and the general fallback.
func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		message string
		want    types.Intent
	}{
		{"email draft", "Draft a reply to the email from Laura", types.IntentEmail},
		{"followup chase", "Have I heard back from anyone I'm waiting on?", types.IntentFollowup},
		{"meeting schedule", "Reschedule my meeting with the vendor", types.IntentMeeting},
		{"contact lookup", "Who is Laura Hodgson and what's her email address?", types.IntentContact},
		{"todo list", "What's on my todo list, any deadline this week?", types.IntentTodo},
		{"no keywords", "Tell me something interesting", types.IntentGeneral},
		{"single weak keyword", "I may send it later", types.IntentGeneral},
		{"empty message", "", types.IntentGeneral},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.message))
		})
	}
}

// TestClassify_TieFallsBackToGeneral verifies equal top scores resolve to
// the general intent rather than an arbitrary winner.
func TestClassify_TieFallsBackToGeneral(t *testing.T) {
	// "inbox" scores email 2, "calendar" scores meeting 2.
	assert.Equal(t, types.IntentGeneral, Classify("check my inbox and my calendar"))
}

// TestExtractHints covers addresses, quoted phrases, and name runs.
func TestExtractHints(t *testing.T) {
	h := ExtractHints(`Check whether Laura Hodgson replied to "the insurance quote" at laura@acme.com or LAURA@acme.com`)

	assert.Equal(t, []string{"laura@acme.com"}, h.Emails) // lowercased, deduplicated
	assert.Equal(t, []string{"the insurance quote"}, h.Phrases)
	assert.Equal(t, []string{"Laura Hodgson"}, h.Names)
	assert.False(t, h.Empty())
}

// TestExtractHints_SingleQuotes verifies single-quoted phrases are caught.
func TestExtractHints_SingleQuotes(t *testing.T) {
	h := ExtractHints("search for 'project kickoff' notes")
	assert.Equal(t, []string{"project kickoff"}, h.Phrases)
}

// TestExtractHints_Stoplist verifies capitalized runs of common words are
// not treated as names.
func TestExtractHints_Stoplist(t *testing.T) {
	h := ExtractHints("Can I see it? What Should happen on Monday March meetings?")
	assert.Empty(t, h.Names)
}

// TestExtractHints_Empty verifies a hint-free message.
func TestExtractHints_Empty(t *testing.T) {
	h := ExtractHints("what happened today?")
	assert.True(t, h.Empty())
}
