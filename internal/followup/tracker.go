package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/sage/internal/config"
	"github.com/scrypster/sage/internal/dataaccess"
	"github.com/scrypster/sage/internal/llm"
	"github.com/scrypster/sage/internal/notify"
	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// Tracker owns the follow-up lifecycle. Creation is driven by outgoing
// mail, advancement by the periodic sweep, resolution by detected replies
// or explicit user action. Every status change goes through the store's
// compare-and-set so a reply racing a sweep resolves deterministically:
// the reply wins.
type Tracker struct {
	data  *dataaccess.Facade
	text  llm.TextGenerator // nil disables LLM fallbacks
	spool *notify.EventWriter
	cal   *Calendar
	cfg   config.FollowupConfig
	user  config.UserConfig
	now   func() time.Time
}

// NewTracker creates a tracker. text may be nil; detection and drafting
// then rely on heuristics and templates alone.
func NewTracker(data *dataaccess.Facade, text llm.TextGenerator, spool *notify.EventWriter, cfg config.FollowupConfig, user config.UserConfig) *Tracker {
	return &Tracker{
		data:  data,
		text:  text,
		spool: spool,
		cal:   NewCalendar(cfg),
		cfg:   cfg,
		user:  user,
		now:   time.Now,
	}
}

// expectsReply phrases that make an outgoing email worth tracking.
var expectsReplyPhrases = []string{
	"let me know", "please send", "please confirm", "could you", "can you",
	"would you", "get back to me", "your thoughts", "please review",
	"please advise", "by end of", "looking forward to hearing",
}

// CreateFromOutgoing inspects an outgoing email and, when it expects a
// reply, creates a follow-up tracking it. The follow-up ID is deterministic
// from the email ID so re-processing the same sent message is idempotent.
// Returns nil without error when the email does not warrant tracking.
func (t *Tracker) CreateFromOutgoing(ctx context.Context, email *types.Entity) (*types.Entity, error) {
	if email == nil || email.EntityType != types.EntityTypeEmail {
		return nil, fmt.Errorf("%w: outgoing email entity required", storage.ErrInvalidInput)
	}
	if !t.expectsReply(ctx, email) {
		return nil, nil
	}

	now := t.now()
	due := t.cal.AddBusinessDays(now, t.cfg.DueAfterDays)
	contactID := email.StructuredString("to_contact_id")

	fu := &types.Entity{
		ID:         "followup_" + email.ID,
		EntityType: types.EntityTypeFollowup,
		Source:     email.Source,
		Structured: map[string]interface{}{
			"subject":    email.StructuredString("subject"),
			"contact_id": contactID,
			"thread_id":  email.StructuredString("thread_id"),
			"email_id":   email.ID,
			"due_date":   storage.EncodeTime(due),
			"status":     string(types.FollowupPending),
			"created_at": storage.EncodeTime(now),
		},
		Metadata: types.EntityMetadata{Timestamp: now},
	}

	if err := t.data.Store(ctx, fu); err != nil {
		return nil, fmt.Errorf("followup: create %s: %w", fu.ID, err)
	}

	t.link(ctx, fu.ID, email.ID, types.RelTracks)
	if contactID != "" {
		t.link(ctx, fu.ID, contactID, types.RelAboutContact)
	}
	return fu, nil
}

func (t *Tracker) link(ctx context.Context, from, to, relType string) {
	err := t.data.CreateRelationship(ctx, &types.Relationship{
		FromID: from, ToID: to, Type: relType,
	})
	if err != nil {
		log.Printf("followup: link %s -[%s]-> %s: %v", from, relType, to, err)
	}
}

// expectsReply decides whether an outgoing email warrants tracking: a
// direct question or a request phrase is a yes; otherwise, when an LLM is
// available, it gets the deciding vote.
func (t *Tracker) expectsReply(ctx context.Context, email *types.Entity) bool {
	body := email.StructuredString("body")
	subject := email.StructuredString("subject")
	lower := strings.ToLower(subject + "\n" + body)

	if strings.Contains(body, "?") {
		return true
	}
	for _, phrase := range expectsReplyPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	if t.text == nil {
		return false
	}

	prompt := fmt.Sprintf(
		"Does this outgoing email expect a reply from the recipient? Answer only YES or NO.\n\nSubject: %s\n\n%s",
		subject, body)
	answer, err := t.text.Complete(ctx, prompt)
	if err != nil {
		log.Printf("followup: llm reply-detection unavailable, not tracking %s: %v", email.ID, err)
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(strings.ToUpper(answer)), "YES")
}

// Sweep advances every active follow-up that crossed a timing threshold.
// For each advancement the draft is produced first, then the status moves
// by compare-and-set; when the CAS loses (a reply arrived mid-sweep) the
// draft is discarded. Sweep never touches terminal follow-ups.
func (t *Tracker) Sweep(ctx context.Context) error {
	active, err := t.Active(ctx)
	if err != nil {
		return fmt.Errorf("followup: sweep: %w", err)
	}

	now := t.now()
	for _, entity := range active {
		fu, err := FromEntity(entity)
		if err != nil {
			log.Printf("followup: sweep skipping malformed %s: %v", entity.ID, err)
			continue
		}
		overdue := t.cal.BusinessDaysBetween(fu.DueDate, now)

		switch {
		case fu.Status == types.FollowupPending && overdue >= t.cfg.RemindAfterDays:
			t.remind(ctx, entity, fu)
		case fu.Status == types.FollowupReminded && overdue >= t.cfg.EscalateAfterDays:
			t.escalate(ctx, entity, fu)
		}
	}
	return nil
}

func (t *Tracker) remind(ctx context.Context, entity *types.Entity, fu *types.Followup) {
	body := t.draftReminder(ctx, fu)

	won, err := t.data.CompareAndSetStatus(ctx, entity.ID, types.FollowupPending, types.FollowupReminded)
	if err != nil {
		log.Printf("followup: remind %s: %v", entity.ID, err)
		return
	}
	if !won {
		// A reply landed between the query and the CAS. Reply wins;
		// the draft is discarded.
		return
	}

	if err := t.spool.Notify(notify.Event{
		Type:     notify.EventDraftReady,
		EntityID: entity.ID,
		Subject:  "Re: " + fu.Subject,
		Body:     body,
	}); err != nil {
		log.Printf("followup: spool reminder for %s: %v", entity.ID, err)
	}
}

func (t *Tracker) escalate(ctx context.Context, entity *types.Entity, fu *types.Followup) {
	escalation := t.resolveEscalationContact(ctx, fu)
	body := t.draftEscalation(ctx, fu, escalation)

	won, err := t.data.CompareAndSetStatus(ctx, entity.ID, types.FollowupReminded, types.FollowupEscalated)
	if err != nil {
		log.Printf("followup: escalate %s: %v", entity.ID, err)
		return
	}
	if !won {
		return
	}

	if err := t.spool.Notify(notify.Event{
		Type:     notify.EventFollowupEscalated,
		EntityID: entity.ID,
		Subject:  "Escalation: " + fu.Subject,
		Body:     body,
	}); err != nil {
		log.Printf("followup: spool escalation for %s: %v", entity.ID, err)
	}
}

// resolveEscalationContact walks the reports_to edge of the awaited
// contact; a missing edge falls back to the configured escalation email,
// and escalation proceeds without a CC when both are absent.
func (t *Tracker) resolveEscalationContact(ctx context.Context, fu *types.Followup) string {
	if fu.ContactID != "" {
		rels, err := t.data.GetRelationships(ctx, fu.ContactID, []string{types.RelReportsTo}, false)
		if err == nil && len(rels) > 0 {
			if sup, err := t.data.Get(ctx, rels[0].ToID); err == nil {
				if addr := sup.StructuredString("email"); addr != "" {
					return addr
				}
			}
		}
	}
	return t.user.EscalationEmail
}

// MarkReplied resolves a follow-up because a reply was detected. It tries
// the CAS from every active status; losing every race means the follow-up
// already reached a terminal state, which is fine.
func (t *Tracker) MarkReplied(ctx context.Context, followupID string) error {
	return t.resolve(ctx, followupID, types.FollowupCompleted)
}

// Cancel resolves a follow-up because the user no longer wants it tracked.
func (t *Tracker) Cancel(ctx context.Context, followupID string) error {
	return t.resolve(ctx, followupID, types.FollowupCancelled)
}

func (t *Tracker) resolve(ctx context.Context, followupID string, terminal types.FollowupStatus) error {
	for _, from := range types.ActiveFollowupStatuses {
		won, err := t.data.CompareAndSetStatus(ctx, followupID, from, terminal)
		if err != nil {
			return fmt.Errorf("followup: resolve %s: %w", followupID, err)
		}
		if won {
			return nil
		}
	}
	// Already terminal: resolving twice is a no-op, not an error.
	return nil
}

// MarkRepliedByThread resolves every active follow-up tracking the thread
// an incoming email belongs to.
func (t *Tracker) MarkRepliedByThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}
	statuses := activeStatusValues()
	matches, err := t.data.Query(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFollowup,
		Filters: []storage.Filter{
			storage.Eq("structured.thread_id", threadID),
			storage.In("structured.status", statuses...),
		},
		Limit: 50,
	})
	if err != nil {
		return fmt.Errorf("followup: lookup thread %s: %w", threadID, err)
	}
	for _, m := range matches {
		if err := t.MarkReplied(ctx, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// Active returns every non-terminal follow-up, oldest due date first.
func (t *Tracker) Active(ctx context.Context) ([]*types.Entity, error) {
	return t.data.Query(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFollowup,
		Filters:    []storage.Filter{storage.In("structured.status", activeStatusValues()...)},
		SortBy:     "created_at",
		SortAsc:    true,
		Limit:      200,
	})
}

// OverdueReport buckets active follow-ups by severity at the given time.
func (t *Tracker) OverdueReport(ctx context.Context, now time.Time) (map[types.FollowupSeverity][]*types.Followup, error) {
	active, err := t.Active(ctx)
	if err != nil {
		return nil, err
	}
	report := map[types.FollowupSeverity][]*types.Followup{}
	for _, entity := range active {
		fu, err := FromEntity(entity)
		if err != nil {
			continue
		}
		sev := fu.Severity(now)
		report[sev] = append(report[sev], fu)
	}
	return report, nil
}

func activeStatusValues() []interface{} {
	out := make([]interface{}, len(types.ActiveFollowupStatuses))
	for i, s := range types.ActiveFollowupStatuses {
		out[i] = s
	}
	return out
}

// FromEntity decodes a followup entity's structured payload into the typed
// view. The entity remains the source of truth.
func FromEntity(entity *types.Entity) (*types.Followup, error) {
	if entity.EntityType != types.EntityTypeFollowup {
		return nil, fmt.Errorf("%w: %s is not a followup", storage.ErrInvalidInput, entity.ID)
	}
	data, err := json.Marshal(entity.Structured)
	if err != nil {
		return nil, fmt.Errorf("followup: encode %s: %w", entity.ID, err)
	}
	var fu types.Followup
	if err := json.Unmarshal(data, &fu); err != nil {
		return nil, fmt.Errorf("followup: decode %s: %w", entity.ID, err)
	}
	fu.ID = entity.ID
	return &fu, nil
}
