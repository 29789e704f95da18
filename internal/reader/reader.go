// Package reader renders a page, re-applies its stored highlights and
// returns a sanitized, self-contained annotated copy.
package reader

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/vault/internal/anchor"
	"github.com/starford/vault/internal/page"
	"github.com/starford/vault/internal/render"
)

// ErrRender wraps failures to fetch or render the page itself.
var ErrRender = errors.New("reader: render failed")

// Result is an annotated page.
type Result struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	ContentType string            `json:"content_type"`
	HTML        string            `json:"html"`
	Markers     []page.MarkerInfo `json:"markers"`
}

// Reader drives a page context over a rendered snapshot.
type Reader struct {
	renderer render.Renderer
	runtime  page.Runtime
	pageCfg  page.Config
	settle   time.Duration
	policy   *bluemonday.Policy
	logger   *slog.Logger
	seq      atomic.Int64
}

// New creates a Reader. settle bounds how long to wait for retries and the
// delayed reapply to finish.
func New(renderer render.Renderer, runtime page.Runtime, pageCfg page.Config, settle time.Duration, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = pageCfg.ReapplyDelay + time.Duration(pageCfg.MaxAttempts+1)*pageCfg.RetryDelay
	}
	return &Reader{
		renderer: renderer,
		runtime:  runtime,
		pageCfg:  pageCfg,
		settle:   settle,
		policy:   newPolicy(),
		logger:   logger,
	}
}

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("span")
	p.AllowDataAttributes()
	return p
}

// Annotate renders rawURL and returns it with the stored highlights applied.
// Highlights that cannot be placed are left out silently.
func (r *Reader) Annotate(ctx context.Context, rawURL string) (*Result, error) {
	snap, err := r.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	tabID := "reader-" + strconv.FormatInt(r.seq.Add(1), 10)
	p := page.New(tabID, r.runtime, page.WithConfig(r.pageCfg), page.WithLogger(r.logger))
	defer p.Unload()

	if err := p.Load(ctx, page.Document{
		Root:        snap.Doc,
		URL:         snap.URL,
		ContentType: snap.ContentType,
		Title:       snap.Title,
	}); err != nil {
		return nil, fmt.Errorf("reader: load: %w", err)
	}

	settleCtx, cancel := context.WithTimeout(ctx, r.settle)
	defer cancel()
	if err := p.Idle(settleCtx); err != nil {
		r.logger.Debug("reader: page did not settle", slog.String("url", rawURL), slog.String("error", err.Error()))
	}

	markers, err := p.Markers(ctx)
	if err != nil {
		return nil, fmt.Errorf("reader: markers: %w", err)
	}
	raw, err := p.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reader: html: %w", err)
	}

	return &Result{
		URL:         snap.URL,
		Title:       snap.Title,
		ContentType: snap.ContentType,
		HTML:        r.wrap(snap.Title, r.policy.Sanitize(raw)),
		Markers:     markers,
	}, nil
}

func (r *Reader) wrap(title, body string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	sb.WriteString(html.EscapeString(title))
	sb.WriteString("</title><style>")
	sb.WriteString(anchor.MarkerCSS)
	sb.WriteString("</style></head><body>")
	sb.WriteString(body)
	sb.WriteString("</body></html>\n")
	return sb.String()
}
