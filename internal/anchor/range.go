package anchor

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrInvalidRange means the boundaries are detached, out of bounds or reversed.
	ErrInvalidRange = errors.New("anchor: invalid range")
	// ErrStructural means wrapping would put a marker where the content model
	// forbids it, e.g. across table cells or list items.
	ErrStructural = errors.New("anchor: range crosses structural markup")
)

// Range is a DOM range whose boundaries are text nodes. Offsets are byte
// offsets into the node data; EndOffset is exclusive.
type Range struct {
	StartNode   *html.Node
	StartOffset int
	EndNode     *html.Node
	EndOffset   int
}

// Text returns the characters the range covers, like Range.toString().
func (r *Range) Text() string {
	if r.StartNode == r.EndNode {
		return r.StartNode.Data[r.StartOffset:r.EndOffset]
	}
	var sb strings.Builder
	sb.WriteString(r.StartNode.Data[r.StartOffset:])
	ca := commonAncestor(r.StartNode, r.EndNode)
	if ca == nil {
		return sb.String()
	}
	inside := false
	walkText(ca, func(n *html.Node) bool {
		switch {
		case n == r.StartNode:
			inside = true
		case n == r.EndNode:
			sb.WriteString(n.Data[:r.EndOffset])
			return false
		case inside:
			sb.WriteString(n.Data)
		}
		return true
	})
	return sb.String()
}

// validate checks the range without touching the tree.
func (r *Range) validate() error {
	s, e := r.StartNode, r.EndNode
	if s == nil || e == nil || s.Type != html.TextNode || e.Type != html.TextNode {
		return fmt.Errorf("%w: boundaries must be text nodes", ErrInvalidRange)
	}
	if s.Parent == nil || e.Parent == nil {
		return fmt.Errorf("%w: detached boundary", ErrInvalidRange)
	}
	if r.StartOffset < 0 || r.StartOffset > len(s.Data) || r.EndOffset < 0 || r.EndOffset > len(e.Data) {
		return fmt.Errorf("%w: offset out of bounds", ErrInvalidRange)
	}
	if s == e {
		if r.StartOffset >= r.EndOffset {
			return fmt.Errorf("%w: empty or reversed", ErrInvalidRange)
		}
		return checkContainer(s.Parent)
	}
	ca := commonAncestor(s, e)
	if ca == nil {
		return fmt.Errorf("%w: boundaries in different trees", ErrInvalidRange)
	}
	if !precedes(s, e) {
		return fmt.Errorf("%w: end before start", ErrInvalidRange)
	}
	if err := checkContainer(ca); err != nil {
		return err
	}
	// Every element between a boundary and the common ancestor gets split
	// and shallow-cloned into the marker.
	for _, b := range []*html.Node{s, e} {
		for p := b.Parent; p != ca; p = p.Parent {
			if err := checkContainer(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkContainer(n *html.Node) error {
	if n.Type == html.DocumentNode {
		return fmt.Errorf("%w: document root", ErrStructural)
	}
	if n.Type != html.ElementNode {
		return nil
	}
	if n.Namespace != "" {
		return fmt.Errorf("%w: foreign content <%s>", ErrStructural, n.Data)
	}
	if isRawText(n.DataAtom) {
		return fmt.Errorf("%w: raw text <%s>", ErrStructural, n.Data)
	}
	switch n.DataAtom {
	case atom.Html, atom.Head,
		atom.Table, atom.Thead, atom.Tbody, atom.Tfoot, atom.Tr, atom.Colgroup,
		atom.Ul, atom.Ol, atom.Dl, atom.Menu,
		atom.Select, atom.Optgroup, atom.Option, atom.Datalist:
		return fmt.Errorf("%w: <%s>", ErrStructural, n.Data)
	}
	return nil
}

// isRawText reports elements whose text is not parsed as markup, so a marker
// inside them would be rendered as literal source.
func isRawText(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Template, atom.Noscript, atom.Title, atom.Textarea,
		atom.Xmp, atom.Iframe, atom.Noembed, atom.Noframes, atom.Plaintext:
		return true
	}
	return false
}

func inRawText(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && isRawText(p.DataAtom) {
			return true
		}
	}
	return false
}

// surround moves the range contents into wrapper and inserts wrapper where
// the contents were. The range must have passed validate.
func (r *Range) surround(wrapper *html.Node) {
	s, e := r.StartNode, r.EndNode
	if s == e {
		data := s.Data
		next := s.NextSibling
		wrapper.AppendChild(newText(data[r.StartOffset:r.EndOffset]))
		s.Parent.InsertBefore(wrapper, next)
		if r.EndOffset < len(data) {
			s.Parent.InsertBefore(newText(data[r.EndOffset:]), next)
		}
		s.Data = data[:r.StartOffset]
		pruneEmpty(s)
		return
	}

	// Insertion point: right after the start-side child of the common ancestor.
	ref := s
	for ref.Parent != nil && !isInclusiveAncestor(ref.Parent, e) {
		ref = ref.Parent
	}
	parent := ref.Parent

	extract(s, r.StartOffset, e, r.EndOffset, wrapper)
	parent.InsertBefore(wrapper, ref.NextSibling)
	pruneEmpty(s)
	pruneEmpty(e)
}

// extract implements DOM extractContents for boundary points (sc, so) and
// (ec, eo), appending the extracted nodes to frag. A boundary container is
// either a text node (byte offset) or an element (child index).
func extract(sc *html.Node, so int, ec *html.Node, eo int, frag *html.Node) {
	if sc == ec {
		if sc.Type == html.TextNode {
			frag.AppendChild(newText(sc.Data[so:eo]))
			sc.Data = sc.Data[:so] + sc.Data[eo:]
			return
		}
		moveChildren(sc, childAt(sc, so), childAt(sc, eo), frag)
		return
	}

	ca := commonAncestor(sc, ec)
	var firstPartial, lastPartial *html.Node
	if !isInclusiveAncestor(sc, ec) {
		firstPartial = childToward(ca, sc)
	}
	if !isInclusiveAncestor(ec, sc) {
		lastPartial = childToward(ca, ec)
	}

	// Fully contained children of ca lie strictly between the partial ones.
	var from, to *html.Node
	if firstPartial != nil {
		from = firstPartial.NextSibling
	} else {
		from = childAt(ca, so)
	}
	if lastPartial != nil {
		to = lastPartial
	} else {
		to = childAt(ca, eo)
	}

	if firstPartial != nil {
		if firstPartial.Type == html.TextNode {
			frag.AppendChild(newText(sc.Data[so:]))
			sc.Data = sc.Data[:so]
		} else {
			clone := shallowClone(firstPartial)
			frag.AppendChild(clone)
			extract(sc, so, firstPartial, childCount(firstPartial), clone)
		}
	}

	moveChildren(ca, from, to, frag)

	if lastPartial != nil {
		if lastPartial.Type == html.TextNode {
			frag.AppendChild(newText(ec.Data[:eo]))
			ec.Data = ec.Data[eo:]
		} else {
			clone := shallowClone(lastPartial)
			frag.AppendChild(clone)
			extract(lastPartial, 0, ec, eo, clone)
		}
	}
}

// moveChildren moves parent's children from `from` up to (not including) `to`.
func moveChildren(parent, from, to, dst *html.Node) {
	for c := from; c != nil && c != to; {
		next := c.NextSibling
		parent.RemoveChild(c)
		dst.AppendChild(c)
		c = next
	}
}

func pruneEmpty(n *html.Node) {
	if n.Type == html.TextNode && n.Data == "" && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
