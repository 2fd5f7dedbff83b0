// Package indexer turns source records (mail, calendar, meeting notes,
// documents, conversation turns) into stored entities with relationships.
// Entity IDs are deterministic from the source's natural key, so
// re-ingesting the same record is an idempotent upsert, never a duplicate.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/sage/internal/dataaccess"
	"github.com/scrypster/sage/internal/llm"
	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// Indexer ingests source records through the facade.
type Indexer struct {
	data *dataaccess.Facade
	text llm.TextGenerator // nil disables LLM fact extraction
	now  func() time.Time
}

// New creates an indexer. text may be nil.
func New(data *dataaccess.Facade, text llm.TextGenerator) *Indexer {
	return &Indexer{data: data, text: text, now: time.Now}
}

var idKeyRe = regexp.MustCompile(`[^a-z0-9]+`)

// ContactID derives the deterministic contact ID from an email address
// (preferred) or a display name.
func ContactID(email, name string) string {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(name))
	}
	key = strings.Trim(idKeyRe.ReplaceAllString(key, "_"), "_")
	return "contact_" + key
}

// EmailInput is one message from a mail source.
type EmailInput struct {
	SourceID  string // provider message ID; required
	Source    string // e.g. "gmail"
	From      string // address
	FromName  string
	To        []string // addresses
	Subject   string
	Body      string
	ThreadID  string
	SentAt    time.Time
	Outgoing  bool // sent by the user rather than received
}

// IndexEmail stores an email, upserts stub contacts for its correspondents,
// and wires the correspondence edges.
func (ix *Indexer) IndexEmail(ctx context.Context, in EmailInput) (*types.Entity, error) {
	if in.SourceID == "" {
		return nil, fmt.Errorf("%w: email needs a source id", storage.ErrInvalidInput)
	}

	fromID := ""
	if in.From != "" {
		contact, err := ix.IndexContact(ctx, ContactInput{Email: in.From, Name: in.FromName, Source: in.Source})
		if err != nil {
			return nil, err
		}
		fromID = contact.ID
	}

	var toIDs []string
	for _, addr := range in.To {
		contact, err := ix.IndexContact(ctx, ContactInput{Email: addr, Source: in.Source})
		if err != nil {
			return nil, err
		}
		toIDs = append(toIDs, contact.ID)
	}

	structured := map[string]interface{}{
		"subject":   in.Subject,
		"body":      in.Body,
		"from":      strings.ToLower(in.From),
		"to":        lowerAll(in.To),
		"thread_id": in.ThreadID,
		"outgoing":  in.Outgoing,
	}
	if fromID != "" {
		structured["from_contact_id"] = fromID
	}
	if len(toIDs) > 0 {
		structured["to_contact_id"] = toIDs[0]
	}
	if !in.SentAt.IsZero() {
		structured["sent_at"] = storage.EncodeTime(in.SentAt)
	}

	email := &types.Entity{
		ID:         "email_" + in.SourceID,
		EntityType: types.EntityTypeEmail,
		Source:     in.Source,
		Structured: structured,
		Metadata:   types.EntityMetadata{Timestamp: in.SentAt},
	}
	if err := ix.data.Store(ctx, email); err != nil {
		return nil, fmt.Errorf("indexer: email %s: %w", email.ID, err)
	}

	if fromID != "" {
		ix.link(ctx, email.ID, fromID, types.RelFromContact)
	}
	for _, toID := range toIDs {
		ix.link(ctx, email.ID, toID, types.RelToContact)
	}
	if in.ThreadID != "" {
		ix.linkThread(ctx, email, in.ThreadID)
	}
	return email, nil
}

// linkThread connects the email to the previous message in its thread.
func (ix *Indexer) linkThread(ctx context.Context, email *types.Entity, threadID string) {
	prior, err := ix.data.Query(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeEmail,
		Filters:    []storage.Filter{storage.Eq("structured.thread_id", threadID)},
		Limit:      2,
	})
	if err != nil {
		log.Printf("indexer: thread lookup %s: %v", threadID, err)
		return
	}
	for _, p := range prior {
		if p.ID != email.ID {
			ix.link(ctx, email.ID, p.ID, types.RelInThread)
			return
		}
	}
}

// ContactInput is one person or organization.
type ContactInput struct {
	Name    string
	Email   string
	Company string
	Phone   string
	Source  string
	// ReportsToEmail links the contact to a supervisor for escalation
	// resolution.
	ReportsToEmail string
}

// IndexContact upserts a contact. Existing fields are preserved when the
// new input leaves them blank, so a stub created from a bare address is
// later enriched rather than blanked by a fuller record.
func (ix *Indexer) IndexContact(ctx context.Context, in ContactInput) (*types.Entity, error) {
	if in.Email == "" && in.Name == "" {
		return nil, fmt.Errorf("%w: contact needs an email or a name", storage.ErrInvalidInput)
	}
	id := ContactID(in.Email, in.Name)

	structured := map[string]interface{}{
		"name":    in.Name,
		"email":   strings.ToLower(in.Email),
		"company": in.Company,
		"phone":   in.Phone,
	}
	if existing, err := ix.data.Get(ctx, id); err == nil {
		for k, v := range structured {
			if s, ok := v.(string); ok && s == "" {
				if prev := existing.StructuredString(k); prev != "" {
					structured[k] = prev
				}
			}
		}
	}

	contact := &types.Entity{
		ID:         id,
		EntityType: types.EntityTypeContact,
		Source:     in.Source,
		Structured: structured,
	}
	if err := ix.data.Store(ctx, contact); err != nil {
		return nil, fmt.Errorf("indexer: contact %s: %w", id, err)
	}

	if in.ReportsToEmail != "" {
		sup, err := ix.IndexContact(ctx, ContactInput{Email: in.ReportsToEmail, Source: in.Source})
		if err == nil {
			ix.link(ctx, contact.ID, sup.ID, types.RelReportsTo)
		}
	}
	return contact, nil
}

// MeetingInput is one meeting record, typically from a transcript source.
type MeetingInput struct {
	SourceID  string
	Source    string // e.g. "fireflies"
	Title     string
	StartsAt  time.Time
	Attendees []string // email addresses
	Notes     string
	Summary   string
}

// IndexMeeting stores a meeting and links its attendees.
func (ix *Indexer) IndexMeeting(ctx context.Context, in MeetingInput) (*types.Entity, error) {
	return ix.indexCalendarRecord(ctx, types.EntityTypeMeeting, "meeting_", in)
}

// IndexEvent stores a calendar event and links its attendees.
func (ix *Indexer) IndexEvent(ctx context.Context, in MeetingInput) (*types.Entity, error) {
	return ix.indexCalendarRecord(ctx, types.EntityTypeEvent, "event_", in)
}

func (ix *Indexer) indexCalendarRecord(ctx context.Context, entityType, prefix string, in MeetingInput) (*types.Entity, error) {
	if in.SourceID == "" {
		return nil, fmt.Errorf("%w: %s needs a source id", storage.ErrInvalidInput, entityType)
	}

	entity := &types.Entity{
		ID:         prefix + in.SourceID,
		EntityType: entityType,
		Source:     in.Source,
		Structured: map[string]interface{}{
			"title":     in.Title,
			"notes":     in.Notes,
			"attendees": lowerAll(in.Attendees),
		},
		Analyzed: types.Analysis{Summary: in.Summary},
		Metadata: types.EntityMetadata{Timestamp: in.StartsAt},
	}
	if !in.StartsAt.IsZero() {
		entity.Structured["starts_at"] = storage.EncodeTime(in.StartsAt)
	}
	if err := ix.data.Store(ctx, entity); err != nil {
		return nil, fmt.Errorf("indexer: %s %s: %w", entityType, entity.ID, err)
	}

	for _, addr := range in.Attendees {
		contact, err := ix.IndexContact(ctx, ContactInput{Email: addr, Source: in.Source})
		if err != nil {
			continue
		}
		ix.link(ctx, entity.ID, contact.ID, types.RelAttendedBy)
	}
	return entity, nil
}

// MemoryInput is one conversation turn between the user and the assistant.
// ConversationID and TurnNumber are the turn's natural key; when both are
// set the memory ID is deterministic and re-ingesting the turn updates the
// stored record instead of duplicating it.
type MemoryInput struct {
	ConversationID   string
	TurnNumber       int
	UserMessage      string
	AssistantMessage string
	At               time.Time
}

// IndexMemory stores a conversation turn and extracts facts from it. Turns
// carrying a conversation/turn key upsert in place; keyless turns get a
// random ID.
func (ix *Indexer) IndexMemory(ctx context.Context, in MemoryInput) (*types.Entity, error) {
	if strings.TrimSpace(in.UserMessage) == "" {
		return nil, fmt.Errorf("%w: memory needs a user message", storage.ErrInvalidInput)
	}
	at := in.At
	if at.IsZero() {
		at = ix.now()
	}

	id := "memory_" + uuid.NewString()
	structured := map[string]interface{}{
		"content":  in.UserMessage,
		"response": in.AssistantMessage,
	}
	if in.ConversationID != "" && in.TurnNumber > 0 {
		key := strings.Trim(idKeyRe.ReplaceAllString(strings.ToLower(in.ConversationID), "_"), "_")
		id = fmt.Sprintf("memory_%s_%d", key, in.TurnNumber)
		structured["conversation_id"] = in.ConversationID
		structured["turn_number"] = in.TurnNumber
	}

	memory := &types.Entity{
		ID:         id,
		EntityType: types.EntityTypeMemory,
		Source:     "conversation",
		Structured: structured,
		Metadata:   types.EntityMetadata{Timestamp: at},
	}

	// A re-ingested turn already produced its facts; carry them over rather
	// than extracting duplicates.
	if prior, err := ix.data.Get(ctx, memory.ID); err == nil {
		memory.Analyzed.FactIDs = prior.Analyzed.FactIDs
		if err := ix.data.Store(ctx, memory); err != nil {
			return nil, fmt.Errorf("indexer: memory %s: %w", memory.ID, err)
		}
		return memory, nil
	}

	if err := ix.data.Store(ctx, memory); err != nil {
		return nil, fmt.Errorf("indexer: memory: %w", err)
	}

	facts, err := ix.ExtractFacts(ctx, memory)
	if err != nil {
		log.Printf("indexer: fact extraction for %s: %v", memory.ID, err)
		return memory, nil
	}
	if len(facts) > 0 {
		ids := make([]string, len(facts))
		for i, f := range facts {
			ids[i] = f.ID
		}
		memory.Analyzed.FactIDs = ids
		if err := ix.data.Store(ctx, memory); err != nil {
			log.Printf("indexer: record fact ids on %s: %v", memory.ID, err)
		}
	}
	return memory, nil
}

func (ix *Indexer) link(ctx context.Context, from, to, relType string) {
	err := ix.data.CreateRelationship(ctx, &types.Relationship{
		FromID: from, ToID: to, Type: relType,
	})
	if err != nil {
		log.Printf("indexer: link %s -[%s]-> %s: %v", from, relType, to, err)
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func contentHash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:8])
}
