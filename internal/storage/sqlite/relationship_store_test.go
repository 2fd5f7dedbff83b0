package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

func mustLink(t *testing.T, store *Store, from, to, relType string) {
	t.Helper()
	require.NoError(t, store.CreateRelationship(context.Background(), &types.Relationship{
		FromID: from,
		ToID:   to,
		Type:   relType,
	}))
}

// TestCreateRelationship_Idempotent verifies duplicate (from, to, type)
// triples collapse to one edge.
func TestCreateRelationship_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rel := &types.Relationship{FromID: "email_a", ToID: "contact_b", Type: types.RelFromContact}
	require.NoError(t, store.CreateRelationship(ctx, rel))
	require.NoError(t, store.CreateRelationship(ctx, &types.Relationship{
		FromID: "email_a", ToID: "contact_b", Type: types.RelFromContact,
	}))

	rels, err := store.GetRelationships(ctx, "email_a", nil, false)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
	assert.Equal(t, rel.ID, rels[0].ID)
}

// TestCreateRelationship_Validation covers the input guards.
func TestCreateRelationship_Validation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.CreateRelationship(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.CreateRelationship(ctx, &types.Relationship{ToID: "b", Type: types.RelMentions}), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.CreateRelationship(ctx, &types.Relationship{FromID: "a", ToID: "b", Type: "bogus"}), storage.ErrInvalidInput)
}

// TestGetRelationships_DirectionAndType verifies forward/reverse lookups
// and type filtering.
func TestGetRelationships_DirectionAndType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustLink(t, store, "email_1", "contact_laura", types.RelFromContact)
	mustLink(t, store, "email_2", "contact_laura", types.RelToContact)
	mustLink(t, store, "followup_1", "contact_laura", types.RelAboutContact)

	incoming, err := store.GetRelationships(ctx, "contact_laura", nil, true)
	require.NoError(t, err)
	assert.Len(t, incoming, 3)

	outgoing, err := store.GetRelationships(ctx, "contact_laura", nil, false)
	require.NoError(t, err)
	assert.Empty(t, outgoing)

	onlyFollowups, err := store.GetRelationships(ctx, "contact_laura", []string{types.RelAboutContact}, true)
	require.NoError(t, err)
	require.Len(t, onlyFollowups, 1)
	assert.Equal(t, "followup_1", onlyFollowups[0].FromID)
}

// TestTraverse_DepthBound verifies the walk stops at MaxDepth even when
// deeper nodes exist.
func TestTraverse_DepthBound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// chain: a -> b -> c -> d
	mustLink(t, store, "memory_a", "memory_b", types.RelRelatesTo)
	mustLink(t, store, "memory_b", "memory_c", types.RelRelatesTo)
	mustLink(t, store, "memory_c", "memory_d", types.RelRelatesTo)

	one, err := store.Traverse(ctx, "memory_a", storage.TraversalOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"memory_b"}, one)

	two, err := store.Traverse(ctx, "memory_a", storage.TraversalOptions{MaxDepth: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"memory_b", "memory_c"}, two)
}

// TestTraverse_CycleTerminates verifies a cyclic correction chain does not
// loop the walk.
func TestTraverse_CycleTerminates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustLink(t, store, "fact_a", "fact_b", types.RelSupersedes)
	mustLink(t, store, "fact_b", "fact_a", types.RelSupersedes)

	reached, err := store.Traverse(ctx, "fact_a", storage.TraversalOptions{MaxDepth: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"fact_b"}, reached)
}

// TestTraverse_FanOutBound verifies per-node fan-out is capped.
func TestTraverse_FanOutBound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mustLink(t, store, "contact_hub", fmt.Sprintf("email_%d", i), types.RelRelatesTo)
	}

	reached, err := store.Traverse(ctx, "contact_hub", storage.TraversalOptions{MaxDepth: 1, MaxFanOut: 3})
	require.NoError(t, err)
	assert.Len(t, reached, 3)
}

// TestTraverse_ReverseIncludesIncoming verifies that Reverse adds incoming
// edges to the walk; the hint pass relies on this to find a contact's
// emails and follow-ups, all of which point AT the contact.
func TestTraverse_ReverseIncludesIncoming(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustLink(t, store, "email_1", "contact_laura", types.RelFromContact)
	mustLink(t, store, "followup_1", "contact_laura", types.RelAboutContact)
	mustLink(t, store, "contact_laura", "contact_boss", types.RelReportsTo)

	// Forward only: just the supervisor.
	forward, err := store.Traverse(ctx, "contact_laura", storage.TraversalOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"contact_boss"}, forward)

	// With Reverse: incoming edges too.
	both, err := store.Traverse(ctx, "contact_laura", storage.TraversalOptions{MaxDepth: 1, Reverse: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contact_boss", "email_1", "followup_1"}, both)
}

// TestTraverse_RelTypeFilter verifies only the requested edge types are
// followed.
func TestTraverse_RelTypeFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustLink(t, store, "memory_1", "contact_laura", types.RelMentions)
	mustLink(t, store, "memory_1", "fact_1", types.RelDerivedFrom)

	reached, err := store.Traverse(ctx, "memory_1", storage.TraversalOptions{
		MaxDepth: 1,
		RelTypes: []string{types.RelMentions},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"contact_laura"}, reached)
}
