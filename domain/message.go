// Package domain defines the core domain models for the relay.
package domain

import "regexp"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn half in a conversation. Censored is a derived
// annotation set only on assistant messages.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Censored bool   `json:"censored,omitempty"`
}

// History is the ordered message sequence for one conversation: user then
// assistant, per turn. A fully reconciled history has even length; a trailing
// unpaired message may exist transiently mid-turn.
type History []Message

// Reconciled reports whether every user message is paired with an assistant
// message.
func (h History) Reconciled() bool {
	return len(h)%2 == 0
}

// LastAssistant returns the content of the most recent assistant message, or
// "" when the history holds none.
func (h History) LastAssistant() string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleAssistant {
			return h[i].Content
		}
	}
	return ""
}

// conversationIDPattern matches the conversation token in the host page path,
// e.g. /chat/0f3b-9a2c-4d1e.
var conversationIDPattern = regexp.MustCompile(`/chat/([0-9a-f][0-9a-f-]*)(?:/|$)`)

// ConversationIDFromPath extracts the conversation id from a page path.
// Returns "" when the path carries no id, which disables save/restore for
// that page view.
func ConversationIDFromPath(path string) string {
	m := conversationIDPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}
