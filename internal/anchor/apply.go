package anchor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker contract shared with stylesheets and other consumers of annotated pages.
const (
	MarkerClass  = "vault-highlight"
	MarkerIDAttr = "data-vault-id"
	styleID      = "vault-highlight-style"
)

// MarkerCSS is the stylesheet InjectStyle adds to a document.
const MarkerCSS = "." + MarkerClass + " { background-color: yellow; }"

// ApplyOptions configure the marker element.
type ApplyOptions struct {
	// ID is written to data-vault-id when non-empty.
	ID string
}

// NewMarker builds an empty marker element.
func NewMarker(opts ApplyOptions) *html.Node {
	m := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr:     []html.Attribute{{Key: "class", Val: MarkerClass}},
	}
	if opts.ID != "" {
		m.Attr = append(m.Attr, html.Attribute{Key: MarkerIDAttr, Val: opts.ID})
	}
	return m
}

// Apply wraps the content of r in a new marker and returns it. Nothing is
// mutated when the range is invalid, structural or covers other characters
// than text, e.g. hidden markup inside the match. A wrap that fails part way
// is undone.
func Apply(r *Range, text string, opts ApplyOptions) (marker *html.Node, err error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil range", ErrInvalidRange)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	if got := r.Text(); got != text {
		return nil, fmt.Errorf("%w: range text %q does not match %q", ErrInvalidRange, got, text)
	}

	m := NewMarker(opts)
	defer func() {
		if p := recover(); p != nil {
			unwrap(m)
			marker, err = nil, fmt.Errorf("anchor: apply: %v", p)
		}
	}()
	r.surround(m)
	if got := TextContent(m); got != text {
		unwrap(m)
		return nil, fmt.Errorf("anchor: apply: marker text %q does not match %q", got, text)
	}
	return m, nil
}

// unwrap replaces m with its children and merges the text nodes that end up
// adjacent. A detached m is left alone.
func unwrap(m *html.Node) {
	parent := m.Parent
	if parent == nil {
		return
	}
	prev, next := m.PrevSibling, m.NextSibling
	for c := m.FirstChild; c != nil; c = m.FirstChild {
		m.RemoveChild(c)
		parent.InsertBefore(c, m)
	}
	parent.RemoveChild(m)

	start := prev
	if start == nil {
		start = parent.FirstChild
	}
	mergeText(parent, start, next)
}

// mergeText joins runs of adjacent text nodes among parent's children from
// `from` up to and including `to`.
func mergeText(parent, from, to *html.Node) {
	for c := from; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			parent.RemoveChild(next)
			if next == to {
				return
			}
			continue
		}
		if c == to {
			return
		}
		c = next
	}
}

// ApplyWithinNode is the fallback used when a cross-node range cannot be
// wrapped: it looks for text wholly inside a single rendered text node under
// doc's body, skipping occurrences that are already highlighted and nodes
// where wrapping fails. Text in hidden or raw-text elements such as <script>
// is never wrapped.
func ApplyWithinNode(doc *html.Node, text string, opts ApplyOptions) (*html.Node, bool) {
	if text == "" {
		return nil, false
	}
	root := Body(doc)
	styles := newStyleResolver(documentOf(root))
	var candidates []*html.Node
	walkText(root, func(n *html.Node) bool {
		if strings.Contains(n.Data, text) && !inRawText(n) && !hiddenByAncestor(n, styles) {
			candidates = append(candidates, n)
		}
		return true
	})
	for _, n := range candidates {
		idx := strings.Index(n.Data, text)
		sub := n.Data[idx : idx+len(text)]
		if HasMarkerWithText(root, sub) {
			continue
		}
		m, err := Apply(&Range{StartNode: n, StartOffset: idx, EndNode: n, EndOffset: idx + len(text)}, text, opts)
		if err == nil {
			return m, true
		}
	}
	return nil, false
}

// InjectStyle adds the marker stylesheet to doc's <head> once.
func InjectStyle(doc *html.Node) {
	var exists bool
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if exists {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			if id, _ := attr(n, "id"); id == styleID {
				exists = true
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	if exists {
		return
	}
	parent := findElement(doc, atom.Head)
	if parent == nil {
		parent = Body(doc)
	}
	style := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Style,
		Data:     "style",
		Attr:     []html.Attribute{{Key: "id", Val: styleID}},
	}
	style.AppendChild(newText(MarkerCSS))
	parent.AppendChild(style)
}

// Outline marks n with the transient focus outline.
func Outline(n *html.Node) {
	setAttr(n, "style", "outline: 2px solid orange;")
}

// ClearOutline removes the outline set by Outline.
func ClearOutline(n *html.Node) {
	RemoveAttr(n, "style")
}

// MarkerID returns the data-vault-id of a marker.
func MarkerID(n *html.Node) string {
	v, _ := attr(n, MarkerIDAttr)
	return v
}
