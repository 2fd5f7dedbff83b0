// Package notify provides cross-process notification between Sage and its
// delivery front ends using filesystem events. Sage never sends anything
// itself: drafts and escalations land in the spool as event files, and a
// front end (mail UI, desktop notifier) watches the spool and surfaces them
// to the user for approval.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event types written to the spool.
const (
	EventDraftReady        = "draft_ready"        // a reply or reminder draft awaits approval
	EventApprovalPending   = "approval_pending"   // an outbound action needs an explicit yes
	EventFollowupEscalated = "followup_escalated" // a follow-up crossed the escalation threshold
)

// Event is the payload written to an event file.
type Event struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body,omitempty"`
	Time     int64  `json:"time"`
}

// EventWriter writes notification event files to the spool directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to the given spool
// directory.
func NewEventWriter(spoolPath string) *EventWriter {
	return &EventWriter{dir: spoolPath}
}

// Notify writes an event file. Safe to call concurrently. Errors are
// returned but callers treat them as non-fatal: a lost notification never
// rolls back the state change that produced it.
func (w *EventWriter) Notify(event Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	if event.Time == 0 {
		event.Time = time.Now().UnixNano()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	filename := fmt.Sprintf("%d-%s.event", event.Time, sanitizeID(event.EntityID))
	return os.WriteFile(filepath.Join(w.dir, filename), data, 0o600)
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
