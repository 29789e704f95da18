package anchor

import (
	"strings"

	"golang.org/x/net/html"
)

// TextSpan is one visible text node and its place in the concatenated text.
// Start and End are byte offsets into the concatenation, End exclusive.
type TextSpan struct {
	Node  *html.Node
	Start int
	End   int
	Text  string
}

// IndexVisibleText returns the visible, non-blank text nodes under root in
// document order. The result describes the tree as it is now and must be
// rebuilt after any mutation.
func IndexVisibleText(root *html.Node) []TextSpan {
	styles := newStyleResolver(documentOf(root))
	var spans []TextSpan
	offset := 0
	walkText(root, func(n *html.Node) bool {
		if strings.TrimSpace(n.Data) == "" || hiddenByAncestor(n, styles) {
			return true
		}
		spans = append(spans, TextSpan{
			Node:  n,
			Start: offset,
			End:   offset + len(n.Data),
			Text:  n.Data,
		})
		offset += len(n.Data)
		return true
	})
	return spans
}

// Concat joins the span texts; offsets in the spans index into this string.
func Concat(spans []TextSpan) string {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func hiddenByAncestor(n *html.Node, styles *styleResolver) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && styles.hidden(p) {
			return true
		}
	}
	return false
}
