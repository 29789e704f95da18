package anchor

import (
	"strings"

	"golang.org/x/net/html"
)

// Resolve finds the first exact occurrence of target in the visible text of
// doc's body and returns the DOM range covering it.
func Resolve(doc *html.Node, target string) (*Range, bool) {
	if target == "" {
		return nil, false
	}
	spans := IndexVisibleText(Body(doc))
	idx := strings.Index(Concat(spans), target)
	if idx < 0 {
		return nil, false
	}
	last := idx + len(target) - 1

	start, ok := spanAt(spans, idx)
	if !ok {
		return nil, false
	}
	end, ok := spanAt(spans, last)
	if !ok {
		return nil, false
	}
	return &Range{
		StartNode:   start.Node,
		StartOffset: idx - start.Start,
		EndNode:     end.Node,
		EndOffset:   last - end.Start + 1,
	}, true
}

// spanAt returns the span whose [Start, End) contains offset.
func spanAt(spans []TextSpan, offset int) (TextSpan, bool) {
	lo, hi := 0, len(spans)
	for lo < hi {
		mid := (lo + hi) / 2
		switch s := spans[mid]; {
		case offset < s.Start:
			hi = mid
		case offset >= s.End:
			lo = mid + 1
		default:
			return s, true
		}
	}
	return TextSpan{}, false
}
