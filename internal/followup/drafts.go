package followup

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/sage/pkg/types"
)

// draftReminder produces the body of a reminder email. With an LLM the
// draft is generated from the follow-up details; without one (or when the
// provider is down) a plain template is used. Drafts are never sent: they
// go to the spool for the user to approve.
func (t *Tracker) draftReminder(ctx context.Context, fu *types.Followup) string {
	fallback := fmt.Sprintf(
		"Hi,\n\nJust following up on \"%s\" — I haven't heard back yet and wanted to check in. "+
			"Let me know if you need anything from me.\n\nThanks,\n%s",
		fu.Subject, t.user.Name)

	if t.text == nil {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Write a short, polite follow-up email reminding the recipient about \"%s\", sent %s and due %s. "+
			"Sign it as %s. Output only the email body.",
		fu.Subject, fu.CreatedAt.Format("Jan 2"), fu.DueDate.Format("Jan 2"), t.user.Name)
	body, err := t.text.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(body) == "" {
		if err != nil {
			log.Printf("followup: reminder draft via llm failed, using template: %v", err)
		}
		return fallback
	}
	return strings.TrimSpace(body)
}

// draftEscalation produces the body of an escalation email. escalation is
// the resolved CC address and may be empty; the draft says so rather than
// inventing one.
func (t *Tracker) draftEscalation(ctx context.Context, fu *types.Followup, escalation string) string {
	ccLine := "No escalation contact is on record for this thread."
	if escalation != "" {
		ccLine = "Suggested CC: " + escalation
	}
	fallback := fmt.Sprintf(
		"Hi,\n\nI still haven't received a reply regarding \"%s\" (originally sent %s). "+
			"Escalating so this doesn't stall.\n\n%s\n\nThanks,\n%s",
		fu.Subject, fu.CreatedAt.Format("Jan 2"), ccLine, t.user.Name)

	if t.text == nil {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Write a short, professional escalation email about the unanswered thread \"%s\" (sent %s, reminded already). "+
			"%s. Sign it as %s. Output only the email body.",
		fu.Subject, fu.CreatedAt.Format("Jan 2"), ccLine, t.user.Name)
	body, err := t.text.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(body) == "" {
		if err != nil {
			log.Printf("followup: escalation draft via llm failed, using template: %v", err)
		}
		return fallback
	}
	return strings.TrimSpace(body)
}
