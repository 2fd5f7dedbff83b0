package search

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// enrichers is the intent dispatch table. Each enricher runs structured
// queries the intent makes relevant; intents bias retrieval, they never
// restrict it, so every enricher only adds candidates.
var enrichers = map[types.Intent]func(*ContextBuilder, context.Context) []*types.Entity{
	types.IntentEmail:    (*ContextBuilder).enrichEmail,
	types.IntentFollowup: (*ContextBuilder).enrichFollowup,
	types.IntentMeeting:  (*ContextBuilder).enrichMeeting,
	types.IntentContact:  (*ContextBuilder).enrichContact,
	types.IntentTodo:     (*ContextBuilder).enrichTodo,
	types.IntentGeneral:  (*ContextBuilder).enrichGeneral,
}

func (b *ContextBuilder) enrich(ctx context.Context, taskIntent types.Intent) []*types.Entity {
	fn, ok := enrichers[taskIntent]
	if !ok {
		fn = (*ContextBuilder).enrichGeneral
	}
	return fn(b, ctx)
}

// enrichEmail pulls the most recent correspondence.
func (b *ContextBuilder) enrichEmail(ctx context.Context) []*types.Entity {
	return b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeEmail,
		Limit:      10,
	})
}

// enrichFollowup pulls every active follow-up, oldest due first, so overdue
// items always make the context for "what am I waiting on" questions.
func (b *ContextBuilder) enrichFollowup(ctx context.Context) []*types.Entity {
	statuses := make([]interface{}, len(types.ActiveFollowupStatuses))
	for i, s := range types.ActiveFollowupStatuses {
		statuses[i] = s
	}
	return b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFollowup,
		Filters:    []storage.Filter{storage.In("structured.status", statuses...)},
		SortBy:     "created_at",
		SortAsc:    true,
		Limit:      20,
	})
}

// enrichMeeting pulls upcoming meetings and events for the next two weeks,
// plus the past few days for "how did it go" questions.
func (b *ContextBuilder) enrichMeeting(ctx context.Context) []*types.Entity {
	now := b.now()
	window := []storage.Filter{
		storage.Gte("event_time", now.AddDate(0, 0, -3)),
		storage.Lte("event_time", now.AddDate(0, 0, 14)),
	}
	out := b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeMeeting,
		Filters:    window,
		SortAsc:    true,
		Limit:      15,
	})
	return append(out, b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeEvent,
		Filters:    window,
		SortAsc:    true,
		Limit:      15,
	})...)
}

// enrichContact pulls recently touched contacts.
func (b *ContextBuilder) enrichContact(ctx context.Context) []*types.Entity {
	return b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeContact,
		SortBy:     "updated_at",
		Limit:      10,
	})
}

// enrichTodo pulls open tasks and recent decisions.
func (b *ContextBuilder) enrichTodo(ctx context.Context) []*types.Entity {
	out := b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFact,
		Filters:    []storage.Filter{storage.Eq("structured.fact_type", types.FactTypeTask)},
		Limit:      15,
	})
	return append(out, b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFact,
		Filters:    []storage.Filter{storage.Eq("structured.fact_type", types.FactTypeDecision)},
		Limit:      5,
	})...)
}

// enrichGeneral pulls a light cross-section of recent activity.
func (b *ContextBuilder) enrichGeneral(ctx context.Context) []*types.Entity {
	out := b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeMemory,
		Limit:      5,
	})
	return append(out, b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeEmail,
		Limit:      5,
	})...)
}

// temporalSummary digests the past week's activity into one sentence. It is
// assembled from counts, not from the retrieval passes, so it stays accurate
// even when the context was trimmed hard.
func (b *ContextBuilder) temporalSummary(ctx context.Context) string {
	now := b.now()
	weekAgo := now.AddDate(0, 0, -7)

	emails := b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeEmail,
		Filters:    []storage.Filter{storage.Gte("event_time", weekAgo)},
		Limit:      500,
	})
	meetings := b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeMeeting,
		Filters:    []storage.Filter{storage.Gte("event_time", weekAgo)},
		Limit:      500,
	})
	statuses := make([]interface{}, len(types.ActiveFollowupStatuses))
	for i, s := range types.ActiveFollowupStatuses {
		statuses[i] = s
	}
	active := b.queryQuiet(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFollowup,
		Filters:    []storage.Filter{storage.In("structured.status", statuses...)},
		Limit:      500,
	})

	return formatTemporalSummary(len(emails), len(meetings), len(active), now)
}

func formatTemporalSummary(emails, meetings, active int, now time.Time) string {
	return fmt.Sprintf("%s: past 7 days saw %s and %s; %s awaiting replies.",
		now.Format("Mon Jan 2"),
		plural(emails, "email"), plural(meetings, "meeting"),
		plural(active, "follow-up"))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
