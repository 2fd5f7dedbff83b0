package types

import "time"

// FollowupStatus represents the lifecycle state of a tracked commitment.
type FollowupStatus string

const (
	// FollowupPending indicates the follow-up was created and the due date
	// has not yet triggered a reminder.
	FollowupPending FollowupStatus = "pending"

	// FollowupReminded indicates the due date passed with no reply and a
	// reminder draft was produced.
	FollowupReminded FollowupStatus = "reminded"

	// FollowupEscalated indicates the longer threshold passed with no
	// reply and an escalation draft was produced.
	FollowupEscalated FollowupStatus = "escalated"

	// FollowupCompleted indicates a reply was detected (or the user marked
	// it done). Terminal.
	FollowupCompleted FollowupStatus = "completed"

	// FollowupCancelled indicates the user cancelled the follow-up. Terminal.
	FollowupCancelled FollowupStatus = "cancelled"
)

// ActiveFollowupStatuses are the non-terminal statuses. Enrichment for
// follow-up intents always includes every follow-up in one of these states.
var ActiveFollowupStatuses = []FollowupStatus{
	FollowupPending,
	FollowupReminded,
	FollowupEscalated,
}

// IsTerminal reports whether the status admits no further automatic
// transitions. Once completed or cancelled, timer sweeps never change a
// follow-up again.
func (s FollowupStatus) IsTerminal() bool {
	return s == FollowupCompleted || s == FollowupCancelled
}

// IsValidFollowupTransition validates transitions of the follow-up state
// machine:
//
//	pending  -> reminded | completed | cancelled
//	reminded -> escalated | completed | cancelled
//	escalated -> completed | cancelled
//	completed, cancelled -> (terminal)
//
// A reply can resolve a follow-up at any active stage, not only from
// pending.
func IsValidFollowupTransition(current, next FollowupStatus) bool {
	if current.IsTerminal() {
		return false
	}

	switch current {
	case FollowupPending:
		return next == FollowupReminded || next == FollowupCompleted || next == FollowupCancelled
	case FollowupReminded:
		return next == FollowupEscalated || next == FollowupCompleted || next == FollowupCancelled
	case FollowupEscalated:
		return next == FollowupCompleted || next == FollowupCancelled
	default:
		return false
	}
}

// Followup is the structured payload of a followup entity, decoded for
// state-machine use. The entity store remains the source of truth; this
// struct is a typed view over Entity.Structured.
type Followup struct {
	ID                string         `json:"id"`
	Subject           string         `json:"subject"`
	ContactID         string         `json:"contact_id"`
	ThreadID          string         `json:"thread_id"`
	DueDate           time.Time      `json:"due_date"`
	EscalationContact string         `json:"escalation_contact,omitempty"` // nullable: escalation proceeds without a CC when unknown
	Status            FollowupStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

// FollowupSeverity buckets overdue follow-ups for reporting. This is a
// read-time classification used by summaries, never a stored state.
type FollowupSeverity string

const (
	SeverityCritical FollowupSeverity = "critical" // >= 7 days overdue
	SeverityHigh     FollowupSeverity = "high"     // 4-6 days
	SeverityMedium   FollowupSeverity = "medium"   // 2-3 days
	SeverityLow      FollowupSeverity = "low"      // 1 day
	SeverityNone     FollowupSeverity = "none"     // not overdue
)

// Severity classifies how overdue the follow-up is at the given time.
func (f *Followup) Severity(now time.Time) FollowupSeverity {
	if f.Status.IsTerminal() || !now.After(f.DueDate) {
		return SeverityNone
	}

	days := int(now.Sub(f.DueDate).Hours() / 24)
	switch {
	case days >= 7:
		return SeverityCritical
	case days >= 4:
		return SeverityHigh
	case days >= 2:
		return SeverityMedium
	case days >= 1:
		return SeverityLow
	default:
		return SeverityNone
	}
}
