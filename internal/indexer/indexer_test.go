package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/sage/internal/dataaccess"
	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/internal/storage/sqlite"
	"github.com/scrypster/sage/pkg/types"
)

func setupIndexer(t *testing.T) (*Indexer, *dataaccess.Facade) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	data, err := dataaccess.New(store, store, store, nil, 8)
	require.NoError(t, err)

	return New(data, nil), data
}

// TestContactID verifies the deterministic contact key.
func TestContactID(t *testing.T) {
	assert.Equal(t, "contact_laura_acme_com", ContactID("Laura@Acme.com", ""))
	assert.Equal(t, "contact_laura_acme_com", ContactID(" laura@acme.com ", "Laura Hodgson"))
	assert.Equal(t, "contact_laura_hodgson", ContactID("", "Laura Hodgson"))
}

// TestIndexEmail verifies contact stubs, correspondence edges, and the
// idempotency of re-ingesting the same message.
func TestIndexEmail(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	in := EmailInput{
		SourceID: "msg001",
		Source:   "gmail",
		From:     "laura@acme.com",
		FromName: "Laura Hodgson",
		To:       []string{"dana@example.com"},
		Subject:  "Insurance quote",
		Body:     "Here it is.",
		ThreadID: "t1",
		SentAt:   time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}

	email, err := ix.IndexEmail(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "email_msg001", email.ID)
	assert.Equal(t, "contact_laura_acme_com", email.StructuredString("from_contact_id"))

	// Correspondent stubs exist.
	from, err := data.Get(ctx, "contact_laura_acme_com")
	require.NoError(t, err)
	assert.Equal(t, "Laura Hodgson", from.StructuredString("name"))
	_, err = data.Get(ctx, "contact_dana_example_com")
	require.NoError(t, err)

	// Correspondence edges exist.
	rels, err := data.GetRelationships(ctx, email.ID, nil, false)
	require.NoError(t, err)
	assert.Len(t, rels, 2) // from_contact + to_contact

	// Re-ingest: same entity, no duplicates.
	again, err := ix.IndexEmail(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, email.ID, again.ID)

	emails, err := data.Query(ctx, storage.QueryOptions{EntityType: types.EntityTypeEmail})
	require.NoError(t, err)
	assert.Len(t, emails, 1)

	rels, err = data.GetRelationships(ctx, email.ID, nil, false)
	require.NoError(t, err)
	assert.Len(t, rels, 2)
}

// TestIndexEmail_ThreadLink verifies a reply links to the prior message in
// its thread.
func TestIndexEmail_ThreadLink(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	first, err := ix.IndexEmail(ctx, EmailInput{
		SourceID: "msg001", From: "dana@example.com", Subject: "Quote request",
		ThreadID: "t1", Outgoing: true,
	})
	require.NoError(t, err)

	reply, err := ix.IndexEmail(ctx, EmailInput{
		SourceID: "msg002", From: "laura@acme.com", Subject: "Re: Quote request",
		ThreadID: "t1",
	})
	require.NoError(t, err)

	rels, err := data.GetRelationships(ctx, reply.ID, []string{types.RelInThread}, false)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, first.ID, rels[0].ToID)
}

// TestIndexContact_PreservesFields verifies a stub contact is enriched by
// a fuller record and a later sparse record does not blank it.
func TestIndexContact_PreservesFields(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	_, err := ix.IndexContact(ctx, ContactInput{Email: "laura@acme.com"})
	require.NoError(t, err)

	full, err := ix.IndexContact(ctx, ContactInput{
		Email:   "laura@acme.com",
		Name:    "Laura Hodgson",
		Company: "Acme",
	})
	require.NoError(t, err)

	// Sparse re-index keeps the enriched fields.
	_, err = ix.IndexContact(ctx, ContactInput{Email: "laura@acme.com"})
	require.NoError(t, err)

	got, err := data.Get(ctx, full.ID)
	require.NoError(t, err)
	assert.Equal(t, "Laura Hodgson", got.StructuredString("name"))
	assert.Equal(t, "Acme", got.StructuredString("company"))
}

// TestIndexContact_ReportsTo verifies the supervisor edge used for
// escalation resolution.
func TestIndexContact_ReportsTo(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	contact, err := ix.IndexContact(ctx, ContactInput{
		Email:          "laura@acme.com",
		Name:           "Laura Hodgson",
		ReportsToEmail: "mark@acme.com",
	})
	require.NoError(t, err)

	rels, err := data.GetRelationships(ctx, contact.ID, []string{types.RelReportsTo}, false)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "contact_mark_acme_com", rels[0].ToID)
}

// TestIndexMeeting verifies attendee links and the event timestamp.
func TestIndexMeeting(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	starts := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	meeting, err := ix.IndexMeeting(ctx, MeetingInput{
		SourceID:  "ff123",
		Source:    "fireflies",
		Title:     "Vendor sync",
		StartsAt:  starts,
		Attendees: []string{"laura@acme.com"},
		Summary:   "Discussed renewal terms.",
	})
	require.NoError(t, err)
	assert.Equal(t, "meeting_ff123", meeting.ID)
	assert.Equal(t, starts, meeting.EventTime())

	rels, err := data.GetRelationships(ctx, meeting.ID, []string{types.RelAttendedBy}, false)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "contact_laura_acme_com", rels[0].ToID)
}

// TestIndexMemory verifies the turn is stored and extracted fact IDs are
// recorded on the memory.
func TestIndexMemory(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	memory, err := ix.IndexMemory(ctx, MemoryInput{
		UserMessage:      "I decided to go with the Acme renewal.",
		AssistantMessage: "Noted.",
	})
	require.NoError(t, err)
	require.Len(t, memory.Analyzed.FactIDs, 1)

	fact, err := data.Get(ctx, memory.Analyzed.FactIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.FactTypeDecision, fact.StructuredString("fact_type"))

	// The fact points back at its source memory.
	rels, err := data.GetRelationships(ctx, fact.ID, []string{types.RelDerivedFrom}, false)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, memory.ID, rels[0].ToID)
}

// TestIndexMemory_ReingestUpdatesInPlace verifies a turn keyed by
// conversation and position lands on a deterministic ID, so replaying the
// same transcript updates the stored memory instead of duplicating it and
// does not extract its facts a second time.
func TestIndexMemory_ReingestUpdatesInPlace(t *testing.T) {
	ix, data := setupIndexer(t)
	ctx := context.Background()

	in := MemoryInput{
		ConversationID:   "Session-42",
		TurnNumber:       3,
		UserMessage:      "I decided to go with the Acme renewal.",
		AssistantMessage: "Noted.",
	}

	first, err := ix.IndexMemory(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "memory_session_42_3", first.ID)
	require.Len(t, first.Analyzed.FactIDs, 1)

	second, err := ix.IndexMemory(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Analyzed.FactIDs, second.Analyzed.FactIDs)

	memories, err := data.Query(ctx, storage.QueryOptions{EntityType: types.EntityTypeMemory})
	require.NoError(t, err)
	assert.Len(t, memories, 1)

	facts, err := data.Query(ctx, storage.QueryOptions{EntityType: types.EntityTypeFact})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

// TestIndexMemory_RejectsEmpty verifies the input guard.
func TestIndexMemory_RejectsEmpty(t *testing.T) {
	ix, _ := setupIndexer(t)

	_, err := ix.IndexMemory(context.Background(), MemoryInput{UserMessage: "   "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
