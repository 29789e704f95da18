// Package anchor locates saved text inside an HTML document and wraps it in
// highlight markers.
//
// The pipeline: index visible text nodes → search the concatenation → map the
// match back to a DOM range → wrap the range in a marker element. All functions
// operate on golang.org/x/net/html trees and must be called from the goroutine
// that owns the document.
package anchor

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Body returns the <body> element of doc, or doc itself when there is none.
func Body(doc *html.Node) *html.Node {
	if n := findElement(doc, atom.Body); n != nil {
		return n
	}
	return doc
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// documentOf walks up to the tree root.
func documentOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// walkText calls fn for every text node under root in document order.
// Returning false stops the walk.
func walkText(root *html.Node, fn func(*html.Node) bool) bool {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if !fn(c) {
				return false
			}
			continue
		}
		if !walkText(c, fn) {
			return false
		}
	}
	return true
}

// TextContent concatenates every text node under n, like DOM textContent.
func TextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	walkText(n, func(t *html.Node) bool {
		sb.WriteString(t.Data)
		return true
	})
	return sb.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes key from n's attributes.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func newText(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}

// shallowClone copies an element without its children.
func shallowClone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	return c
}

func childIndex(n *html.Node) int {
	i := 0
	for c := n.PrevSibling; c != nil; c = c.PrevSibling {
		i++
	}
	return i
}

func childCount(n *html.Node) int {
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		i++
	}
	return i
}

func childAt(n *html.Node, i int) *html.Node {
	c := n.FirstChild
	for ; c != nil && i > 0; i-- {
		c = c.NextSibling
	}
	return c
}

// isInclusiveAncestor reports whether a is b or one of b's ancestors.
func isInclusiveAncestor(a, b *html.Node) bool {
	for n := b; n != nil; n = n.Parent {
		if n == a {
			return true
		}
	}
	return false
}

func commonAncestor(a, b *html.Node) *html.Node {
	for n := a; n != nil; n = n.Parent {
		if isInclusiveAncestor(n, b) {
			return n
		}
	}
	return nil
}

// childToward returns the child of ancestor on the path down to n.
func childToward(ancestor, n *html.Node) *html.Node {
	for ; n != nil; n = n.Parent {
		if n.Parent == ancestor {
			return n
		}
	}
	return nil
}

// precedes reports whether a comes before b in document order. Both nodes
// must share a root and must not be ancestors of one another.
func precedes(a, b *html.Node) bool {
	ca := commonAncestor(a, b)
	if ca == nil {
		return false
	}
	ac, bc := childToward(ca, a), childToward(ca, b)
	for c := ac; c != nil; c = c.NextSibling {
		if c == bc {
			return true
		}
	}
	return false
}
