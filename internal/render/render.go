// Package render loads a page URL into an HTML node tree, either with a plain
// HTTP fetch or through a headless Chrome that runs the page's scripts.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// ErrDisallowed is returned when robots.txt forbids fetching a URL.
var ErrDisallowed = errors.New("render: disallowed by robots.txt")

// Snapshot is a rendered page.
type Snapshot struct {
	URL         string
	ContentType string
	Title       string
	Doc         *html.Node
}

// Renderer turns a URL into a Snapshot.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (*Snapshot, error)
}

func checkURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("render: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("render: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("render: missing host in %q", rawURL)
	}
	return u, nil
}

func documentTitle(doc *html.Node) string {
	return strings.TrimSpace(goquery.NewDocumentFromNode(doc).Find("title").First().Text())
}

// emptyDocument is used for surfaces that are not HTML.
func emptyDocument() *html.Node {
	doc, _ := html.Parse(strings.NewReader(""))
	return doc
}

// hostLimiter rate-limits requests per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newHostLimiter(perSecond float64, burst int) *hostLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
