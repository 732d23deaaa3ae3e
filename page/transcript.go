// Package page reads and mutates the rendered chat transcript. The host
// page's document is the source of truth for conversation data at extraction
// time; it reaches the relay as an HTML snapshot.
//
// The reconciliation state machine never touches HTML directly: it works
// against the Transcript and Presenter interfaces, and HTMLTranscript
// implements both over a parsed node tree. The expected shape per turn is a
// pair of sibling group elements, the second containing an element with
// class "assistant-message":
//
//	<div> <div>user text</div> ... </div>
//	<div> <div class="assistant-message">assistant text</div> ... </div>
//
// User text is derived from the assistant element's parent's previous
// element sibling's first element child. Any missing link in that chain
// degrades to an empty string with a warning log; the host page owns this
// structure and may change it at any time.
package page

import (
	"log"
	"strings"

	"golang.org/x/net/html"

	"chatmend/censor"
)

// Marker classes used on the transcript tree.
const (
	ClassAssistant = "assistant-message"
	ClassWarning   = "cm-warning"
	ClassRetry     = "cm-retry"
	ClassControls  = "message-controls"
)

// Transcript is the read side of the rendered conversation.
type Transcript interface {
	// Len returns the number of rendered turns.
	Len() int
	// UserText returns the normalized user text paired with turn i, or ""
	// when the structural chain to it is broken.
	UserText(i int) string
	// AssistantText returns the normalized rendered text of turn i.
	AssistantText(i int) string
	// HasWarning reports whether a warning banner is already associated
	// with turn i.
	HasWarning(i int) bool
}

// Presenter is the write side: UI affordances applied to rendered turns.
// All operations are idempotent and out-of-range indexes are ignored.
type Presenter interface {
	SetTurnText(i int, text string)
	ShowWarning(i int, text string)
	HideWarning(i int)
	AppendRetry(i int)
}

// View combines both sides; HTMLTranscript and test fakes implement it.
type View interface {
	Transcript
	Presenter
}

// HTMLTranscript is a Transcript and Presenter over a parsed HTML snapshot.
type HTMLTranscript struct {
	root       *html.Node
	assistants []*html.Node
}

// ParseTranscript parses an HTML snapshot and indexes its assistant-turn
// elements in document order.
func ParseTranscript(snapshot string) (*HTMLTranscript, error) {
	root, err := html.Parse(strings.NewReader(snapshot))
	if err != nil {
		return nil, err
	}

	t := &HTMLTranscript{root: root}
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, ClassAssistant) {
			t.assistants = append(t.assistants, n)
		}
	})
	return t, nil
}

// Len returns the number of rendered assistant turns.
func (t *HTMLTranscript) Len() int {
	return len(t.assistants)
}

// AssistantText returns the normalized rendered text of turn i.
func (t *HTMLTranscript) AssistantText(i int) string {
	n := t.assistant(i)
	if n == nil {
		return ""
	}
	return censor.Normalize(textContent(n))
}

// UserText walks parent -> previous element sibling -> first element child
// from the assistant element of turn i.
func (t *HTMLTranscript) UserText(i int) string {
	n := t.assistant(i)
	if n == nil {
		return ""
	}
	parent := n.Parent
	if parent == nil {
		log.Printf("WARN: turn %d: assistant element has no parent", i)
		return ""
	}
	sibling := prevElementSibling(parent)
	if sibling == nil {
		log.Printf("WARN: turn %d: no preceding sibling for user text", i)
		return ""
	}
	bubble := firstElementChild(sibling)
	if bubble == nil {
		log.Printf("WARN: turn %d: user container has no element child", i)
		return ""
	}
	return censor.Normalize(textContent(bubble))
}

// HasWarning reports a banner immediately preceding the assistant element or
// anywhere within the same turn container.
func (t *HTMLTranscript) HasWarning(i int) bool {
	n := t.assistant(i)
	if n == nil {
		return false
	}
	if prev := prevElementSibling(n); prev != nil && hasClass(prev, ClassWarning) {
		return true
	}
	if n.Parent == nil {
		return false
	}
	found := false
	walk(n.Parent, func(c *html.Node) {
		if c.Type == html.ElementNode && hasClass(c, ClassWarning) {
			found = true
		}
	})
	return found
}

// Render serializes the whole mutated snapshot back to HTML.
func (t *HTMLTranscript) Render() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, t.root); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderTurn serializes the container of turn i, including any banner and
// retry affordance.
func (t *HTMLTranscript) RenderTurn(i int) (string, error) {
	n := t.assistant(i)
	if n == nil || n.Parent == nil {
		return "", nil
	}
	var sb strings.Builder
	if err := html.Render(&sb, n.Parent); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *HTMLTranscript) assistant(i int) *html.Node {
	if i < 0 || i >= len(t.assistants) {
		log.Printf("WARN: turn index %d out of range (%d turns)", i, len(t.assistants))
		return nil
	}
	return t.assistants[i]
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// prevElementSibling skips text and comment nodes, matching the DOM's
// previousElementSibling.
func prevElementSibling(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func firstElementChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}
