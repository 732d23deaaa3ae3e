// Package reconcile coordinates the censorship-replacement pipeline: a
// detection event is resolved through the fixed sequence
// detected -> extracting -> requesting -> (replaced | restored) -> persisted.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatmend/domain"
	"chatmend/page"
	"chatmend/policy"
	"chatmend/store"
)

// Placeholder is the turn text shown while a rewrite is in flight.
const Placeholder = "Fetching a replacement answer..."

// ErrInFlight is returned when a detection event arrives for a conversation
// that already has a reconciliation running. The event is dropped; overlapping
// runs would race on the same turn and the persisted history.
var ErrInFlight = errors.New("reconcile: conversation already reconciling")

// ErrNoTurns is returned when the snapshot renders no turns to reconcile.
var ErrNoTurns = errors.New("reconcile: no rendered turns in scope")

// Rewriter obtains a replacement for a conversation. Implementations must
// return tagged results, never errors-as-text.
type Rewriter interface {
	Rewrite(ctx context.Context, history domain.History) domain.RewriteResult
	HasCredential(ctx context.Context) bool
}

// Outcome describes a finished reconciliation run.
type Outcome struct {
	ReconcileID    string         `json:"reconcile_id"`
	ConversationID string         `json:"conversation_id"`
	Index          int            `json:"index"`
	Replaced       bool           `json:"replaced"`
	Text           string         `json:"text,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	History        domain.History `json:"history"`
}

// Controller runs the reconciliation state machine.
type Controller struct {
	store    store.Store
	engine   *policy.Engine
	rewriter Rewriter

	mu       sync.Mutex
	inflight map[string]bool
}

// NewController creates a controller.
func NewController(s store.Store, engine *policy.Engine, rewriter Rewriter) *Controller {
	return &Controller{
		store:    s,
		engine:   engine,
		rewriter: rewriter,
		inflight: make(map[string]bool),
	}
}

// operation is the conversation-scoped context for one run; the id is
// resolved once here and never re-derived mid-flight.
type operation struct {
	reconcileID    string
	conversationID string
	startedAt      time.Time
}

// Handle resolves one detection event against a rendered view. Events whose
// discriminator does not match are ignored silently.
func (ctl *Controller) Handle(ctx context.Context, ev domain.DetectionEvent, view page.View) (*Outcome, error) {
	if ev.Type != domain.DetectionType {
		return nil, nil
	}

	op := operation{
		reconcileID:    "rec_" + uuid.New().String()[:8],
		conversationID: ev.ConversationID,
		startedAt:      time.Now(),
	}

	if !ctl.acquire(op.conversationID) {
		log.Printf("WARN: dropping detection for conversation %q: reconciliation in flight", op.conversationID)
		return nil, ErrInFlight
	}
	defer ctl.release(op.conversationID)

	// Scope: all turns, or [0..index] on a manual retry. Index arrives off
	// the wire, so a negative value is rejected rather than clamped into a
	// bogus scope.
	turns := view.Len()
	if ev.Index != nil {
		if *ev.Index < 0 {
			return nil, ErrNoTurns
		}
		if *ev.Index+1 < turns {
			turns = *ev.Index + 1
		}
	}
	if turns == 0 {
		return nil, ErrNoTurns
	}
	last := turns - 1

	ctl.recordEvent(ctx, op, domain.EventTypeDetectionReceived, domain.DetectionReceivedPayload{
		Manual: ev.Manual,
		Index:  ev.Index,
		Turns:  turns,
	})

	// Extract the history and snapshot the turn we are about to mutate.
	history := page.Extract(view, turns, ev.Manual)
	snapshot := view.AssistantText(last)

	// Defense in depth: what gets classified is the extracted assistant
	// content, not the raw detection payload.
	content := history.LastAssistant()
	censored := history[2*last+1].Censored

	decision, err := ctl.engine.Evaluate(ctx, policy.Input{
		Censored:      censored,
		Manual:        ev.Manual,
		HasCredential: ctl.rewriter.HasCredential(ctx),
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		decision = policy.DecisionEcho
	}

	view.SetTurnText(last, Placeholder)
	ctl.recordEvent(ctx, op, domain.EventTypeRewriteStarted, domain.RewriteStartedPayload{
		Decision: decision,
		Messages: len(history),
	})

	var result domain.RewriteResult
	switch decision {
	case policy.DecisionRewrite:
		// The single suspension point.
		result = ctl.rewriter.Rewrite(ctx, history)
	case policy.DecisionSkip:
		result = domain.RewriteResult{Reason: "rewrite unavailable: credential not configured"}
	default:
		// Echo the original content back as the replacement so the
		// pipeline has a single success path.
		result = domain.RewriteResult{OK: true, Text: content}
	}

	outcome := &Outcome{
		ReconcileID:    op.reconcileID,
		ConversationID: op.conversationID,
		Index:          last,
	}

	if result.OK && result.Text != "" {
		view.SetTurnText(last, result.Text)
		view.ShowWarning(last, page.WarningText)
		view.AppendRetry(last)
		history[2*last+1].Content = result.Text
		history[2*last+1].Censored = true

		outcome.Replaced = true
		outcome.Text = result.Text
		ctl.recordEvent(ctx, op, domain.EventTypeTurnReplaced, domain.TurnReplacedPayload{
			Index:     last,
			LatencyMs: time.Since(op.startedAt).Milliseconds(),
		})
	} else {
		view.SetTurnText(last, snapshot)
		view.HideWarning(last)
		view.AppendRetry(last)
		history[2*last+1].Content = snapshot
		history[2*last+1].Censored = false

		outcome.Reason = result.Reason
		ctl.recordEvent(ctx, op, domain.EventTypeTurnRestored, domain.TurnRestoredPayload{
			Index:  last,
			Reason: result.Reason,
		})
	}

	if err := ctl.store.SaveHistory(ctx, op.conversationID, history); err != nil {
		log.Printf("WARN: failed to persist history for conversation %q: %v", op.conversationID, err)
	} else {
		ctl.recordEvent(ctx, op, domain.EventTypeHistoryPersisted, nil)
	}

	outcome.History = history
	return outcome, nil
}

func (ctl *Controller) acquire(conversationID string) bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.inflight[conversationID] {
		return false
	}
	ctl.inflight[conversationID] = true
	return true
}

func (ctl *Controller) release(conversationID string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	delete(ctl.inflight, conversationID)
}

// recordEvent appends a trace event; failures are logged, never fatal.
func (ctl *Controller) recordEvent(ctx context.Context, op operation, eventType domain.EventType, payload interface{}) {
	var payloadJSON json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("WARN: failed to marshal %s payload: %v", eventType, err)
			return
		}
		payloadJSON = data
	}

	event := &domain.Event{
		EventID:        "evt_" + uuid.New().String()[:8],
		ReconcileID:    op.reconcileID,
		ConversationID: op.conversationID,
		Ts:             time.Now().UnixMilli(),
		Type:           eventType,
		Payload:        payloadJSON,
	}
	if err := ctl.store.CreateEvent(ctx, event); err != nil {
		log.Printf("WARN: failed to record %s event: %v", eventType, err)
	}
}
