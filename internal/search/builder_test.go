package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/sage/internal/config"
	"github.com/scrypster/sage/internal/dataaccess"
	"github.com/scrypster/sage/internal/storage/sqlite"
	"github.com/scrypster/sage/pkg/types"
)

func setupBuilder(t *testing.T) (*ContextBuilder, *dataaccess.Facade) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// No embedder: the semantic pass degrades with a warning in every test.
	data, err := dataaccess.New(store, store, store, nil, 8)
	require.NoError(t, err)

	builder := NewContextBuilder(data, config.SearchConfig{
		TokenBudget:       4000,
		SemanticLimit:     10,
		SemanticThreshold: 0.3,
		HintLimit:         5,
	})
	builder.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return builder, data
}

func storeEntity(t *testing.T, data *dataaccess.Facade, e *types.Entity) {
	t.Helper()
	require.NoError(t, data.Store(context.Background(), e))
}

func seedLaura(t *testing.T, data *dataaccess.Facade) {
	t.Helper()
	ctx := context.Background()

	storeEntity(t, data, &types.Entity{
		ID:         "contact_laura_hodgson",
		EntityType: types.EntityTypeContact,
		Structured: map[string]interface{}{
			"name":  "Laura Hodgson",
			"email": "laura@acme.com",
		},
	})
	email := &types.Entity{
		ID:         "email_quote",
		EntityType: types.EntityTypeEmail,
		Structured: map[string]interface{}{
			"subject": "Insurance quote",
			"body":    "Could you send the updated insurance quote?",
		},
		Metadata: types.EntityMetadata{Timestamp: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)},
	}
	storeEntity(t, data, email)
	require.NoError(t, data.CreateRelationship(ctx, &types.Relationship{
		FromID: "email_quote",
		ToID:   "contact_laura_hodgson",
		Type:   types.RelToContact,
	}))
}

// TestSearchForTask_DegradesWithoutEmbedder verifies a missing embedding
// provider narrows the context and warns instead of failing the request.
func TestSearchForTask_DegradesWithoutEmbedder(t *testing.T) {
	builder, _ := setupBuilder(t)

	sc, err := builder.SearchForTask(context.Background(), "what happened today?", types.IntentGeneral)
	require.NoError(t, err)
	require.NotEmpty(t, sc.Retrieval.Warnings)
	assert.Contains(t, sc.Retrieval.Warnings[0], "semantic search unavailable")
	assert.Zero(t, sc.Retrieval.SemanticCount)
}

// TestSearchForTask_HintPass verifies a mentioned name resolves to the
// contact and pulls in its correspondence through the reverse edges.
func TestSearchForTask_HintPass(t *testing.T) {
	builder, data := setupBuilder(t)
	seedLaura(t, data)

	sc, err := builder.SearchForTask(context.Background(),
		"Am I waiting on Laura Hodgson for anything?", "")
	require.NoError(t, err)

	assert.True(t, sc.Contains("contact_laura_hodgson"))
	assert.True(t, sc.Contains("email_quote"), "one-hop expansion should pull the email pointing at the contact")
	assert.GreaterOrEqual(t, sc.Retrieval.HintCount, 2)
}

// TestSearchForTask_QuotedPhraseMatchesSubject verifies quoted phrases are
// looked up as email subjects.
func TestSearchForTask_QuotedPhraseMatchesSubject(t *testing.T) {
	builder, data := setupBuilder(t)
	seedLaura(t, data)

	sc, err := builder.SearchForTask(context.Background(),
		`any update on "Insurance quote"?`, types.IntentGeneral)
	require.NoError(t, err)
	assert.True(t, sc.Contains("email_quote"))
}

// TestSearchForTask_DedupesAcrossPasses verifies an entity surfaced by
// both the hint and enrichment passes appears once with both sources
// recorded.
func TestSearchForTask_DedupesAcrossPasses(t *testing.T) {
	builder, data := setupBuilder(t)
	seedLaura(t, data)

	// Email intent enriches with recent emails; the quoted phrase also hits
	// email_quote through the hint pass.
	sc, err := builder.SearchForTask(context.Background(),
		`draft a reply to the "Insurance quote" email`, types.IntentEmail)
	require.NoError(t, err)

	count := 0
	for _, s := range sc.All() {
		if s.ID == "email_quote" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.ElementsMatch(t,
		[]types.RetrievalPass{types.PassHint, types.PassEnrichment},
		sc.Retrieval.Sources["email_quote"])
}

// TestSearchForTask_FollowupEnrichment verifies follow-up intents always
// include active follow-ups.
func TestSearchForTask_FollowupEnrichment(t *testing.T) {
	builder, data := setupBuilder(t)

	storeEntity(t, data, &types.Entity{
		ID:         "followup_email_quote",
		EntityType: types.EntityTypeFollowup,
		Structured: map[string]interface{}{
			"subject": "Insurance quote",
			"status":  string(types.FollowupPending),
		},
	})
	storeEntity(t, data, &types.Entity{
		ID:         "followup_done",
		EntityType: types.EntityTypeFollowup,
		Structured: map[string]interface{}{
			"subject": "Old thread",
			"status":  string(types.FollowupCompleted),
		},
	})

	sc, err := builder.SearchForTask(context.Background(),
		"what am I still waiting on?", "")
	require.NoError(t, err)

	assert.True(t, sc.Contains("followup_email_quote"))
	assert.False(t, sc.Contains("followup_done"), "terminal follow-ups are not enrichment candidates")
}

// TestAssemble_BudgetTrimsLowPriorityFirst verifies that when the budget
// cannot hold everything, hint-pass entities survive and the drop count is
// recorded.
func TestAssemble_BudgetTrimsLowPriorityFirst(t *testing.T) {
	builder, _ := setupBuilder(t)
	builder.cfg.TokenBudget = 10 // fits a single small summary

	hintEntity := &types.Entity{
		ID:         "contact_a",
		EntityType: types.EntityTypeContact,
		Structured: map[string]interface{}{"name": "A"},
	}
	enrichedEntity := &types.Entity{
		ID:         "email_b",
		EntityType: types.EntityTypeEmail,
		Structured: map[string]interface{}{"subject": "B"},
	}

	sc := builder.assemble([]candidate{
		{entity: enrichedEntity, pass: types.PassEnrichment},
		{entity: hintEntity, pass: types.PassHint},
	}, nil)

	assert.Equal(t, 1, sc.Size())
	assert.True(t, sc.Contains("contact_a"))
	assert.Equal(t, 1, sc.Retrieval.TrimmedCount)
	assert.LessOrEqual(t, sc.Retrieval.TokenEstimate, 10)
}

// TestAssemble_OversizedHintBlocksSemanticFiller verifies that a hint match
// too large for the budget is not displaced by smaller semantic results:
// the trim drops from the low-priority tail, never around a refused item.
func TestAssemble_OversizedHintBlocksSemanticFiller(t *testing.T) {
	builder, _ := setupBuilder(t)
	builder.cfg.TokenBudget = 50

	hintEmail := &types.Entity{
		ID:         "email_big",
		EntityType: types.EntityTypeEmail,
		Structured: map[string]interface{}{
			"subject": "Insurance quote",
			"body":    strings.Repeat("renewal terms and figures ", 20),
		},
	}
	semanticNote := &types.Entity{
		ID:         "memory_small",
		EntityType: types.EntityTypeMemory,
		Structured: map[string]interface{}{"content": "ok"},
	}

	sc := builder.assemble([]candidate{
		{entity: semanticNote, pass: types.PassSemantic, score: 0.9},
		{entity: hintEmail, pass: types.PassHint},
	}, nil)

	assert.False(t, sc.Contains("memory_small"), "semantic filler must not outlive a trimmed hint")
	assert.False(t, sc.Contains("email_big"))
	assert.Equal(t, 2, sc.Retrieval.TrimmedCount)
	assert.Zero(t, sc.Retrieval.TokenEstimate)
}

// flatEmbedder maps every text to the same vector, so any stored entity
// matches any query with a perfect score.
type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (flatEmbedder) GetModel() string { return "flat" }

// TestSearchForTask_SemanticScopeFollowsIntent verifies the semantic pass
// only ranks record types relevant to the intent: an extracted fact surfaces
// for a general question but stays out of an email task's context.
func TestSearchForTask_SemanticScopeFollowsIntent(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	data, err := dataaccess.New(store, store, store, flatEmbedder{}, 8)
	require.NoError(t, err)

	builder := NewContextBuilder(data, config.SearchConfig{
		TokenBudget:       4000,
		SemanticLimit:     10,
		SemanticThreshold: 0.3,
		HintLimit:         5,
	})

	storeEntity(t, data, &types.Entity{
		ID:         "fact_renewal_date",
		EntityType: types.EntityTypeFact,
		Structured: map[string]interface{}{
			"statement": "The insurance policy renews on March 30.",
			"fact_type": types.FactTypePreference,
		},
	})

	ctx := context.Background()

	sc, err := builder.SearchForTask(ctx, "anything about the insurance renewal", types.IntentEmail)
	require.NoError(t, err)
	assert.False(t, sc.Contains("fact_renewal_date"), "facts are out of scope for email tasks")

	sc, err = builder.SearchForTask(ctx, "anything about the insurance renewal", types.IntentGeneral)
	require.NoError(t, err)
	assert.True(t, sc.Contains("fact_renewal_date"))
}

// TestTemporalSummary verifies the digest counts only the past week.
func TestTemporalSummary(t *testing.T) {
	builder, data := setupBuilder(t)

	recent := &types.Entity{
		ID:         "email_recent",
		EntityType: types.EntityTypeEmail,
		Structured: map[string]interface{}{"subject": "hi"},
		Metadata:   types.EntityMetadata{Timestamp: time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)},
	}
	stale := &types.Entity{
		ID:         "email_stale",
		EntityType: types.EntityTypeEmail,
		Structured: map[string]interface{}{"subject": "old"},
		Metadata:   types.EntityMetadata{Timestamp: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	storeEntity(t, data, recent)
	storeEntity(t, data, stale)

	summary := builder.temporalSummary(context.Background())
	assert.Contains(t, summary, "1 email")
	assert.Contains(t, summary, "0 meetings")
}

// TestSummarize covers title/snippet selection and truncation.
func TestSummarize(t *testing.T) {
	e := &types.Entity{
		ID:         "email_x",
		EntityType: types.EntityTypeEmail,
		Structured: map[string]interface{}{
			"subject": "Quarterly review",
			"body":    "Here are the numbers for the quarter.",
		},
	}
	s := Summarize(e, 0.8)
	assert.Equal(t, "Quarterly review", s.Title)
	assert.Equal(t, "Here are the numbers for the quarter.", s.Snippet)
	assert.Equal(t, 0.8, s.Score)

	// Analyzed summary wins over raw body.
	e.Analyzed.Summary = "Q1 numbers shared."
	assert.Equal(t, "Q1 numbers shared.", Summarize(e, 0).Snippet)

	// Untitled entities fall back to their ID.
	bare := &types.Entity{ID: "memory_1", EntityType: types.EntityTypeMemory}
	assert.Equal(t, "memory_1", Summarize(bare, 0).Title)
}

// TestTruncate verifies the word-boundary cut.
func TestTruncate(t *testing.T) {
	long := "word " + strings.Repeat("thing ", 100)
	cut := truncate(long, 50)
	assert.LessOrEqual(t, len(cut), 53) // cut point + ellipsis
	assert.True(t, strings.HasSuffix(cut, "..."))
}

// TestPromptFromContext_EmptyContext verifies grounding: an empty context
// renders an explicit "none found" block rather than nothing.
func TestPromptFromContext_EmptyContext(t *testing.T) {
	prompt := PromptFromContext("who is Laura?", &types.SearchContext{})
	assert.Contains(t, prompt, "(none found for this request)")
	assert.Contains(t, prompt, "=== USER MESSAGE ===\nwho is Laura?")
}

// TestPromptFromContext_RendersEntitiesAndWarnings verifies only context
// entities are rendered and degradation is disclosed.
func TestPromptFromContext_RendersEntitiesAndWarnings(t *testing.T) {
	sc := &types.SearchContext{
		Contacts: []types.EntitySummary{{
			ID:    "contact_laura_hodgson",
			Title: "Laura Hodgson",
		}},
		TemporalSummary: "quiet week",
		Retrieval: types.RetrievalMetadata{
			Warnings: []string{"semantic search unavailable: no embedding provider"},
		},
	}
	prompt := PromptFromContext("who is Laura?", sc)
	assert.Contains(t, prompt, "[contact_laura_hodgson] Laura Hodgson")
	assert.Contains(t, prompt, "Recent activity: quiet week")
	assert.Contains(t, prompt, "retrieval was degraded")
}
