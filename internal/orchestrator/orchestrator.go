// Package orchestrator coordinates a full assistant turn: classify the
// message, assemble grounded context, generate a response, record the turn
// as memory, and route side effects (follow-up creation, reply resolution,
// draft approval) to the owning components.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/scrypster/sage/internal/followup"
	"github.com/scrypster/sage/internal/indexer"
	"github.com/scrypster/sage/internal/intent"
	"github.com/scrypster/sage/internal/llm"
	"github.com/scrypster/sage/internal/notify"
	"github.com/scrypster/sage/internal/search"
	"github.com/scrypster/sage/pkg/types"
)

// Response is the outcome of one assistant turn.
type Response struct {
	// Text is the assistant's reply, always grounded in Context.
	Text string

	// Intent is what the message was classified as.
	Intent types.Intent

	// Context is the retrieval bundle the reply was grounded in.
	Context *types.SearchContext

	// RequiresApproval is set when the turn produced an outbound draft;
	// nothing leaves the system until the user approves it in the spool.
	RequiresApproval bool

	// Degraded is set when the reply had to fall back because the model
	// provider was unreachable.
	Degraded bool
}

// Orchestrator wires the pipeline components for one deployment.
type Orchestrator struct {
	builder *search.ContextBuilder
	index   *indexer.Indexer
	tracker *followup.Tracker
	text    llm.TextGenerator
	spool   *notify.EventWriter

	mu    sync.Mutex
	turns map[string]int // next turn number per conversation
}

// New creates an orchestrator.
func New(builder *search.ContextBuilder, index *indexer.Indexer, tracker *followup.Tracker, text llm.TextGenerator, spool *notify.EventWriter) *Orchestrator {
	return &Orchestrator{
		builder: builder,
		index:   index,
		tracker: tracker,
		text:    text,
		spool:   spool,
		turns:   map[string]int{},
	}
}

func (o *Orchestrator) nextTurn(conversationID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns[conversationID]++
	return o.turns[conversationID]
}

// HandleMessage runs one assistant turn in the given conversation.
// Retrieval degradation narrows the context; provider failure degrades the
// reply to an honest "can't answer right now". Neither fails the turn.
func (o *Orchestrator) HandleMessage(ctx context.Context, conversationID, message string) (*Response, error) {
	taskIntent := intent.Classify(message)

	sc, err := o.builder.SearchForTask(ctx, message, taskIntent)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: context assembly: %w", err)
	}

	resp := &Response{Intent: taskIntent, Context: sc}

	prompt := search.PromptFromContext(message, sc)
	text, err := o.text.Complete(ctx, prompt)
	if err != nil {
		log.Printf("orchestrator: completion failed, degrading: %v", err)
		resp.Degraded = true
		if sc.Size() == 0 {
			resp.Text = "I don't have any stored information about that, and I can't reach the language model right now."
		} else {
			resp.Text = "I found related stored information but can't compose a full answer right now:\n" +
				search.ContextDigest(sc)
		}
	} else {
		resp.Text = text
	}

	// Drafting intents hand the text to the approval spool instead of
	// treating it as final.
	if !resp.Degraded && taskIntent == types.IntentEmail && sc.Size() > 0 {
		resp.RequiresApproval = true
		if err := o.spool.Notify(notify.Event{
			Type: notify.EventApprovalPending,
			// The memory of this turn is not stored yet; the draft event
			// references the conversation by its own content.
			EntityID: "draft",
			Body:     resp.Text,
		}); err != nil {
			log.Printf("orchestrator: spool draft: %v", err)
		}
	}

	// Record the turn so future retrieval can see it. Failure to record
	// never fails the turn that produced a reply.
	if _, err := o.index.IndexMemory(ctx, indexer.MemoryInput{
		ConversationID:   conversationID,
		TurnNumber:       o.nextTurn(conversationID),
		UserMessage:      message,
		AssistantMessage: resp.Text,
	}); err != nil {
		log.Printf("orchestrator: record turn: %v", err)
	}

	return resp, nil
}

// HandleIncomingEmail ingests a received message and resolves any follow-up
// waiting on its thread. The reply wins every race with the sweep.
func (o *Orchestrator) HandleIncomingEmail(ctx context.Context, in indexer.EmailInput) (*types.Entity, error) {
	in.Outgoing = false
	email, err := o.index.IndexEmail(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := o.tracker.MarkRepliedByThread(ctx, in.ThreadID); err != nil {
		log.Printf("orchestrator: resolve follow-ups for thread %s: %v", in.ThreadID, err)
	}
	return email, nil
}

// HandleOutgoingEmail ingests a sent message and starts follow-up tracking
// when it expects a reply.
func (o *Orchestrator) HandleOutgoingEmail(ctx context.Context, in indexer.EmailInput) (*types.Entity, error) {
	in.Outgoing = true
	email, err := o.index.IndexEmail(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := o.tracker.CreateFromOutgoing(ctx, email); err != nil {
		log.Printf("orchestrator: follow-up for %s: %v", email.ID, err)
	}
	return email, nil
}
