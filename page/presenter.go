package page

import (
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RetryLabel is the text on the manual-retry control.
const RetryLabel = "Retry uncensored"

// SetTurnText replaces the rendered text of turn i with a single text node.
func (t *HTMLTranscript) SetTurnText(i int, text string) {
	n := t.assistant(i)
	if n == nil {
		return
	}
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// ShowWarning inserts a banner node immediately before the assistant element
// of turn i. A no-op when a banner is already present there.
func (t *HTMLTranscript) ShowWarning(i int, text string) {
	n := t.assistant(i)
	if n == nil || n.Parent == nil {
		return
	}
	if prev := prevElementSibling(n); prev != nil && hasClass(prev, ClassWarning) {
		return
	}

	banner := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "class", Val: ClassWarning}},
	}
	banner.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	n.Parent.InsertBefore(banner, n)
}

// HideWarning removes any banner node within the turn container of turn i.
func (t *HTMLTranscript) HideWarning(i int) {
	n := t.assistant(i)
	if n == nil || n.Parent == nil {
		return
	}

	var banners []*html.Node
	walk(n.Parent, func(c *html.Node) {
		if c.Type == html.ElementNode && hasClass(c, ClassWarning) {
			banners = append(banners, c)
		}
	})
	for _, banner := range banners {
		if banner.Parent != nil {
			banner.Parent.RemoveChild(banner)
		}
	}
}

// AppendRetry attaches one manual-retry control to the controls container of
// turn i, creating the container when the host page renders none. Idempotent
// via the marker class.
func (t *HTMLTranscript) AppendRetry(i int) {
	n := t.assistant(i)
	if n == nil || n.Parent == nil {
		return
	}

	controls := t.controlsContainer(n.Parent)
	for c := controls.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, ClassRetry) {
			return
		}
	}

	retry := &html.Node{
		Type:     html.ElementNode,
		Data:     "button",
		DataAtom: atom.Button,
		Attr: []html.Attribute{
			{Key: "class", Val: ClassRetry},
			{Key: "data-turn-index", Val: strconv.Itoa(i)},
		},
	}
	retry.AppendChild(&html.Node{Type: html.TextNode, Data: RetryLabel})
	controls.AppendChild(retry)
}

func (t *HTMLTranscript) controlsContainer(group *html.Node) *html.Node {
	for c := group.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, ClassControls) {
			return c
		}
	}
	controls := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "class", Val: ClassControls}},
	}
	group.AppendChild(controls)
	return controls
}
