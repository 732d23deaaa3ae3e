package domain

import (
	"encoding/json"
)

// DetectionType is the fixed discriminator carried by every detection
// broadcast. Messages with any other type are ignored by receivers.
const DetectionType = "censorship-detected"

// ActionCheckCensorship is the action discriminator on reconcile requests.
const ActionCheckCensorship = "checkCensorship"

// DetectionEvent crosses the boundary between the interception layer and the
// reconciliation controller. Index scopes a manual retry to one turn; when
// nil the event targets the most recent turn.
type DetectionEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Index          *int   `json:"index,omitempty"`
	Manual         bool   `json:"manual,omitempty"`
}

// ReconcileRequest is the payload sent by the page shim to trigger
// reconciliation. HTML is the rendered transcript snapshot.
type ReconcileRequest struct {
	Action string `json:"action"`
	HTML   string `json:"html"`
	Index  *int   `json:"index,omitempty"`
	Manual bool   `json:"manual,omitempty"`
}

// RewriteResult is the tagged outcome of a rewrite round trip. Provider
// failures carry OK=false with a reason instead of masquerading as
// replacement text.
type RewriteResult struct {
	OK     bool   `json:"ok"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EventType labels a reconciliation trace event.
type EventType string

const (
	EventTypeDetectionReceived EventType = "detection_received"
	EventTypeRewriteStarted    EventType = "rewrite_started"
	EventTypeTurnReplaced      EventType = "turn_replaced"
	EventTypeTurnRestored      EventType = "turn_restored"
	EventTypeHistoryPersisted  EventType = "history_persisted"
)

// Event is an append-only trace record of one reconciliation step.
type Event struct {
	EventID        string          `json:"event_id"`
	ReconcileID    string          `json:"reconcile_id"`
	ConversationID string          `json:"conversation_id"`
	Ts             int64           `json:"ts"` // Unix milliseconds
	Type           EventType       `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DetectionReceivedPayload is the payload for detection_received events.
type DetectionReceivedPayload struct {
	Manual bool `json:"manual"`
	Index  *int `json:"index,omitempty"`
	Turns  int  `json:"turns"`
}

// RewriteStartedPayload is the payload for rewrite_started events.
type RewriteStartedPayload struct {
	Model    string `json:"model"`
	Decision string `json:"decision"`
	Messages int    `json:"messages"`
}

// TurnReplacedPayload is the payload for turn_replaced events.
type TurnReplacedPayload struct {
	Index     int   `json:"index"`
	LatencyMs int64 `json:"latency_ms"`
}

// TurnRestoredPayload is the payload for turn_restored events.
type TurnRestoredPayload struct {
	Index  int    `json:"index"`
	Reason string `json:"reason,omitempty"`
}
