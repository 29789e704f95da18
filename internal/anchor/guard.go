package anchor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HasMarkerWithText reports whether a marker under root already has exactly
// text as its text content.
func HasMarkerWithText(root *html.Node, text string) bool {
	found := false
	goquery.NewDocumentFromNode(root).Find("." + MarkerClass).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Text() == text {
			found = true
			return false
		}
		return true
	})
	return found
}

// Markers returns every marker element under root in document order.
func Markers(root *html.Node) []*html.Node {
	return goquery.NewDocumentFromNode(root).Find("." + MarkerClass).Nodes
}

// IsUnsupportedSurface reports whether the page is rendered by something other
// than the HTML engine, such as a PDF viewer. Query and fragment are ignored.
func IsUnsupportedSurface(pageURL, contentType string) bool {
	if ct := strings.ToLower(strings.TrimSpace(contentType)); ct != "" {
		if mt, _, _ := strings.Cut(ct, ";"); strings.TrimSpace(mt) == "application/pdf" {
			return true
		}
	}
	path := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Scheme != "" {
		path = u.Path
	} else {
		path, _, _ = strings.Cut(path, "#")
		path, _, _ = strings.Cut(path, "?")
	}
	path = strings.ToLower(path)
	return strings.HasSuffix(path, ".pdf") || strings.Contains(path, "/pdf")
}
