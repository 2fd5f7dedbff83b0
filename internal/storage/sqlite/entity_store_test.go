package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// setupTestStore creates an in-memory SQLite store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(":memory:")
	require.NoError(t, err, "failed to create test store")

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func testEmail(id, subject string) *types.Entity {
	return &types.Entity{
		ID:         id,
		EntityType: types.EntityTypeEmail,
		Source:     "gmail",
		Structured: map[string]interface{}{
			"subject": subject,
			"body":    "body of " + subject,
		},
	}
}

// TestStore_InsertAndGet verifies a round trip through the entity table.
func TestStore_InsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := testEmail("email_abc", "Quarterly review")
	require.NoError(t, store.Store(ctx, e))
	assert.Equal(t, 1, e.Metadata.Version)

	got, err := store.Get(ctx, "email_abc")
	require.NoError(t, err)
	assert.Equal(t, types.EntityTypeEmail, got.EntityType)
	assert.Equal(t, "gmail", got.Source)
	assert.Equal(t, "Quarterly review", got.StructuredString("subject"))
	assert.Equal(t, 1, got.Metadata.Version)
	assert.False(t, got.Metadata.CreatedAt.IsZero())
}

// TestStore_GetNotFound verifies missing IDs surface ErrNotFound.
func TestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "email_nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestStore_UpsertIncrementsVersion verifies that re-storing the same ID
// with version 0 (blind upsert) succeeds and bumps the version.
func TestStore_UpsertIncrementsVersion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEmail("email_abc", "v1")))

	again := testEmail("email_abc", "v2")
	require.NoError(t, store.Store(ctx, again))
	assert.Equal(t, 2, again.Metadata.Version)

	got, err := store.Get(ctx, "email_abc")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.StructuredString("subject"))
	assert.Equal(t, 2, got.Metadata.Version)
}

// TestStore_VersionConflict verifies a stale version fails the write and
// leaves the stored entity untouched.
func TestStore_VersionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEmail("email_abc", "v1")))
	require.NoError(t, store.Store(ctx, testEmail("email_abc", "v2"))) // now at version 2

	stale := testEmail("email_abc", "stale")
	stale.Metadata.Version = 1
	err := store.Store(ctx, stale)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	got, err := store.Get(ctx, "email_abc")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.StructuredString("subject"))
}

// TestStore_TypeConflict verifies that reusing an ID with a different
// entity type is rejected rather than overwritten.
func TestStore_TypeConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEmail("email_abc", "hello")))

	wrong := &types.Entity{ID: "email_abc", EntityType: types.EntityTypeContact}
	err := store.Store(ctx, wrong)
	assert.ErrorIs(t, err, storage.ErrTypeConflict)
}

// TestStore_InvalidInput covers the input guards.
func TestStore_InvalidInput(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Store(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Store(ctx, &types.Entity{EntityType: types.EntityTypeEmail}), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Store(ctx, &types.Entity{ID: "x", EntityType: "bogus"}), storage.ErrInvalidInput)
}

// TestStore_SoftDelete verifies Delete hides the entity from reads but a
// second delete reports not found.
func TestStore_SoftDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEmail("email_abc", "bye")))
	require.NoError(t, store.Delete(ctx, "email_abc"))

	_, err := store.Get(ctx, "email_abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "email_abc"), storage.ErrNotFound)
}

// TestStore_QuerySupersededExcluded verifies the single enforcement point:
// superseded entities vanish from default queries but stay reachable with
// IncludeSuperseded and through point reads.
func TestStore_QuerySupersededExcluded(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	oldFact := &types.Entity{
		ID:         "fact_old",
		EntityType: types.EntityTypeFact,
		Structured: map[string]interface{}{"statement": "deadline is March 15"},
	}
	newFact := &types.Entity{
		ID:         "fact_new",
		EntityType: types.EntityTypeFact,
		Structured: map[string]interface{}{"statement": "deadline is March 30"},
	}
	require.NoError(t, store.Store(ctx, oldFact))
	require.NoError(t, store.Store(ctx, newFact))

	require.NoError(t, store.MarkSuperseded(ctx, "fact_old", "fact_new"))

	results, err := store.Query(ctx, storage.QueryOptions{EntityType: types.EntityTypeFact})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fact_new", results[0].ID)
	assert.Equal(t, "fact_old", results[0].Metadata.Supersedes)

	all, err := store.Query(ctx, storage.QueryOptions{
		EntityType:        types.EntityTypeFact,
		IncludeSuperseded: true,
	})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Point reads still see the superseded record for audit.
	got, err := store.Get(ctx, "fact_old")
	require.NoError(t, err)
	assert.True(t, got.IsSuperseded())
	assert.Equal(t, "fact_new", got.Metadata.SupersededBy)
}

// TestStore_MarkSupersededMissing verifies both endpoints must exist.
func TestStore_MarkSupersededMissing(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEmail("email_abc", "x")))

	assert.ErrorIs(t, store.MarkSuperseded(ctx, "fact_missing", "email_abc"), storage.ErrNotFound)
	assert.ErrorIs(t, store.MarkSuperseded(ctx, "email_abc", "fact_missing"), storage.ErrNotFound)
}

// TestStore_QueryStructuredFilters exercises eq/in filters addressing the
// JSON payload and the limit clamp.
func TestStore_QueryStructuredFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, f := range []struct{ id, status string }{
		{"followup_1", "pending"},
		{"followup_2", "reminded"},
		{"followup_3", "completed"},
	} {
		e := &types.Entity{
			ID:         f.id,
			EntityType: types.EntityTypeFollowup,
			Structured: map[string]interface{}{"status": f.status},
		}
		require.NoError(t, store.Store(ctx, e))
	}

	active, err := store.Query(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFollowup,
		Filters: []storage.Filter{
			storage.In("structured.status", "pending", "reminded"),
		},
		SortBy:  "created_at",
		SortAsc: true,
	})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "followup_1", active[0].ID)
	assert.Equal(t, "followup_2", active[1].ID)

	pending, err := store.Query(ctx, storage.QueryOptions{
		Filters: []storage.Filter{storage.Eq("structured.status", "pending")},
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "followup_1", pending[0].ID)
}

// TestStore_QueryTimeRangeFilters verifies range filters over RFC3339
// encoded timestamps stored in the structured payload.
func TestStore_QueryTimeRangeFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"meeting_a", "meeting_b", "meeting_c"} {
		when := base.AddDate(0, 0, i*7)
		e := &types.Entity{
			ID:         id,
			EntityType: types.EntityTypeMeeting,
			Structured: map[string]interface{}{
				"title":      id,
				"start_time": storage.EncodeTime(when),
			},
		}
		e.Metadata.Timestamp = when
		require.NoError(t, store.Store(ctx, e))
	}

	// Window covering only the middle meeting.
	results, err := store.Query(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeMeeting,
		Filters: []storage.Filter{
			storage.Gte("structured.start_time", base.AddDate(0, 0, 3)),
			storage.Lte("structured.start_time", base.AddDate(0, 0, 10)),
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "meeting_b", results[0].ID)
}

// TestStore_QueryRejectsBadFilters verifies unknown fields and operators
// fail instead of silently matching everything.
func TestStore_QueryRejectsBadFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Query(ctx, storage.QueryOptions{
		Filters: []storage.Filter{storage.Eq("drop table", "x")},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Query(ctx, storage.QueryOptions{
		Filters: []storage.Filter{storage.Eq("structured.bad-key", "x")},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Query(ctx, storage.QueryOptions{
		Filters: []storage.Filter{{Field: "source", Op: "like", Value: "x"}},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

// TestStore_QuerySortsByEventTime verifies the default recency ordering
// uses the event timestamp rather than insertion order.
func TestStore_QuerySortsByEventTime(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older := testEmail("email_old", "older")
	older.Metadata.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testEmail("email_new", "newer")
	newer.Metadata.Timestamp = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Insert newest first so insertion order disagrees with event time.
	require.NoError(t, store.Store(ctx, newer))
	require.NoError(t, store.Store(ctx, older))

	results, err := store.Query(ctx, storage.QueryOptions{EntityType: types.EntityTypeEmail})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "email_new", results[0].ID)
	assert.Equal(t, "email_old", results[1].ID)
}

// TestStore_CompareAndSetStatus verifies the guarded swap: the expected
// status must still hold at write time.
func TestStore_CompareAndSetStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := &types.Entity{
		ID:         "followup_x",
		EntityType: types.EntityTypeFollowup,
		Structured: map[string]interface{}{"status": string(types.FollowupPending)},
	}
	require.NoError(t, store.Store(ctx, e))

	ok, err := store.CompareAndSetStatus(ctx, "followup_x", types.FollowupPending, types.FollowupReminded)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "followup_x")
	require.NoError(t, err)
	assert.Equal(t, string(types.FollowupReminded), got.StructuredString("status"))

	// Same swap again: the guard no longer matches, so it is a no-op.
	ok, err = store.CompareAndSetStatus(ctx, "followup_x", types.FollowupPending, types.FollowupReminded)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestStore_CompareAndSetStatus_ReplyWins simulates the reply/timer race:
// once a reply completes the follow-up, the sweep's transition loses.
func TestStore_CompareAndSetStatus_ReplyWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := &types.Entity{
		ID:         "followup_race",
		EntityType: types.EntityTypeFollowup,
		Structured: map[string]interface{}{"status": string(types.FollowupPending)},
	}
	require.NoError(t, store.Store(ctx, e))

	// Reply lands first.
	ok, err := store.CompareAndSetStatus(ctx, "followup_race", types.FollowupPending, types.FollowupCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	// The sweep's pending->reminded swap must lose.
	ok, err = store.CompareAndSetStatus(ctx, "followup_race", types.FollowupPending, types.FollowupReminded)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "followup_race")
	require.NoError(t, err)
	assert.Equal(t, string(types.FollowupCompleted), got.StructuredString("status"))
}

// TestStore_CompareAndSetStatus_InvalidTransition verifies the state
// machine rejects transitions that skip states or leave terminal ones.
func TestStore_CompareAndSetStatus_InvalidTransition(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CompareAndSetStatus(ctx, "followup_x", types.FollowupPending, types.FollowupEscalated)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.CompareAndSetStatus(ctx, "followup_x", types.FollowupCompleted, types.FollowupCancelled)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
