// Package page hosts a loaded document and re-applies highlights to it.
//
// Concurrency model: every Page runs one event-loop goroutine that owns the
// document. Public methods post closures to the loop through an unbounded
// queue and never block the poster. Delays are ScheduledTask timers that post
// back to the loop; Unload cancels all of them.
package page

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/starford/vault/internal/anchor"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
)

// ErrUnloaded is returned by operations on a page after Unload.
var ErrUnloaded = errors.New("page: unloaded")

// Config holds the retry and timing parameters.
type Config struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	OutlineDuration time.Duration
	ReapplyDelay    time.Duration
}

// DefaultConfig returns 12 retries 300ms apart, a 2s outline and a 1.5s reapply.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     12,
		RetryDelay:      300 * time.Millisecond,
		OutlineDuration: 2 * time.Second,
		ReapplyDelay:    1500 * time.Millisecond,
	}
}

// Runtime is the part of the message bus a page uses.
type Runtime interface {
	RegisterTab(tabID string, h messaging.TabHandler) (unregister func())
	Request(ctx context.Context, from messaging.Sender, msg messaging.Message) (messaging.Response, error)
	Notify(ctx context.Context, from messaging.Sender, msg messaging.Message) error
}

// Viewport scrolls a marker into view, centred and smooth.
type Viewport interface {
	ScrollIntoView(marker *html.Node)
}

type nopViewport struct{}

func (nopViewport) ScrollIntoView(*html.Node) {}

// Document is a freshly loaded page.
type Document struct {
	Root        *html.Node
	URL         string
	ContentType string
	Title       string
}

// MarkerInfo describes a marker currently in the document.
type MarkerInfo struct {
	ID       string
	Text     string
	Outlined bool
}

// Option configures a Page.
type Option func(*Page)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(p *Page) { p.cfg = cfg }
}

// WithViewport sets the scroll target.
func WithViewport(v Viewport) Option {
	return func(p *Page) { p.viewport = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// Page is one tab's content context.
type Page struct {
	tabID    string
	runtime  Runtime
	cfg      Config
	viewport Viewport
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the event loop.
	doc         *html.Node
	url         string
	contentType string
	title       string
	focused     *html.Node

	mu         sync.Mutex
	queue      []func()
	closed     bool
	pending    int
	idle       chan struct{}
	timers     map[*ScheduledTask]struct{}
	tasks      map[*Task]struct{}
	unregister func()

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts a page context for tabID and registers it on the runtime.
func New(tabID string, runtime Runtime, opts ...Option) *Page {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	p := &Page{
		tabID:    tabID,
		runtime:  runtime,
		cfg:      DefaultConfig(),
		viewport: nopViewport{},
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		idle:     idle,
		timers:   make(map[*ScheduledTask]struct{}),
		tasks:    make(map[*Task]struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.unregister = runtime.RegisterTab(tabID, p.handleMessage)
	go p.loop()
	return p
}

// TabID returns the tab the page is registered under.
func (p *Page) TabID() string { return p.tabID }

func (p *Page) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			fn := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()

			fn()

			p.mu.Lock()
			p.releaseLocked()
			p.mu.Unlock()

			select {
			case <-p.quit:
				return
			default:
			}
		}
	}
}

// post queues fn on the event loop. It reports false after Unload.
func (p *Page) post(fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, fn)
	p.acquireLocked()
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the event loop and waits for it.
func (p *Page) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !p.post(func() {
		fn()
		close(ran)
	}) {
		return ErrUnloaded
	}
	select {
	case <-ran:
		return nil
	case <-p.done:
		return ErrUnloaded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Page) acquireLocked() {
	p.pending++
	if p.pending == 1 {
		p.idle = make(chan struct{})
	}
}

func (p *Page) releaseLocked() {
	if p.closed || p.pending == 0 {
		return
	}
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

func (p *Page) forget(t *Task) {
	p.mu.Lock()
	delete(p.tasks, t)
	p.mu.Unlock()
}

// Idle waits until no queued work, running task or pending retry remains.
// Outline clearing does not count.
func (p *Page) Idle(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idle
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HighlightAndScroll starts a highlight task for text. The first attempt runs
// on the event loop as soon as possible.
func (p *Page) HighlightAndScroll(text, id string, scroll bool) *Task {
	t := &Task{
		page:   p,
		text:   text,
		id:     id,
		scroll: scroll,
		done:   make(chan struct{}),
	}
	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.tasks[t] = struct{}{}
	}
	p.mu.Unlock()
	if closed || !p.post(func() { t.attempt(0) }) {
		t.finish(StateAbandoned, ReasonCancelled)
	}
	return t
}

func (p *Page) handleMessage(msg messaging.Message) {
	switch msg.Type {
	case messaging.KindHighlightText:
		p.HighlightAndScroll(msg.Text, msg.ID, true)
	default:
		p.logger.Debug("page: ignoring message",
			slog.String("tab_id", p.tabID),
			slog.String("type", msg.Type))
	}
}

func (p *Page) sender() messaging.Sender {
	return messaging.Sender{TabID: p.tabID, URL: p.url, Title: p.title}
}

// Load replaces the document and runs the on-load behaviour: the deep-link
// highlight, a pass over the stored highlights for this URL without
// scrolling, a replay request for the same URL, and a second pass after
// ReapplyDelay.
func (p *Page) Load(ctx context.Context, d Document) error {
	if d.Root == nil {
		return fmt.Errorf("page: load: nil document")
	}
	var from messaging.Sender
	err := p.do(ctx, func() {
		p.doc = d.Root
		p.url = d.URL
		p.contentType = d.ContentType
		p.title = d.Title
		p.focused = nil
		anchor.InjectStyle(p.doc)
		from = p.sender()
	})
	if err != nil {
		return err
	}

	text, ok, err := models.DeepLinkText(d.URL)
	switch {
	case err != nil:
		p.logger.Warn("page: bad highlight fragment",
			slog.String("tab_id", p.tabID),
			slog.String("error", err.Error()))
	case ok:
		p.HighlightAndScroll(text, "", true)
	}

	pageURL := models.StripFragment(d.URL)
	p.reapply(pageURL)

	// The background answers by sending highlightText messages to this tab.
	if err := p.runtime.Notify(ctx, from, messaging.Message{
		Type: messaging.KindGetHighlightsForPage,
		URL:  pageURL,
	}); err != nil {
		p.logger.Warn("page: replay request failed",
			slog.String("tab_id", p.tabID),
			slog.String("error", err.Error()))
	}

	p.afterAsync(p.cfg.ReapplyDelay, true, func() { p.reapply(pageURL) })
	return nil
}

// reapply asks for every stored highlight and re-applies the ones for pageURL.
func (p *Page) reapply(pageURL string) {
	resp, err := p.runtime.Request(p.ctx, messaging.Sender{TabID: p.tabID, URL: pageURL}, messaging.Message{
		Type: messaging.KindGetAllHighlights,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("page: reapply request failed",
				slog.String("tab_id", p.tabID),
				slog.String("error", err.Error()))
		}
		return
	}
	for _, h := range resp.Highlights {
		if h.URL == pageURL {
			p.HighlightAndScroll(h.Text, h.ID, false)
		}
	}
}

// Mutate runs fn against the live document on the event loop, e.g. to
// simulate content that renders late.
func (p *Page) Mutate(ctx context.Context, fn func(doc *html.Node)) error {
	return p.do(ctx, func() {
		if p.doc != nil {
			fn(p.doc)
		}
	})
}

// HTML renders the current document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var (
		buf    bytes.Buffer
		renErr error
	)
	err := p.do(ctx, func() {
		if p.doc == nil {
			return
		}
		renErr = html.Render(&buf, p.doc)
	})
	if err != nil {
		return "", err
	}
	if renErr != nil {
		return "", fmt.Errorf("page: render: %w", renErr)
	}
	return buf.String(), nil
}

// Markers lists the markers in document order.
func (p *Page) Markers(ctx context.Context) ([]MarkerInfo, error) {
	var out []MarkerInfo
	err := p.do(ctx, func() {
		if p.doc == nil {
			return
		}
		for _, m := range anchor.Markers(p.doc) {
			out = append(out, markerInfo(m))
		}
	})
	return out, err
}

// Focused returns the marker most recently scrolled into view.
func (p *Page) Focused(ctx context.Context) (MarkerInfo, bool, error) {
	var (
		info MarkerInfo
		ok   bool
	)
	err := p.do(ctx, func() {
		if p.focused != nil && p.focused.Parent != nil {
			info, ok = markerInfo(p.focused), true
		}
	})
	return info, ok, err
}

func markerInfo(m *html.Node) MarkerInfo {
	outlined := false
	for _, a := range m.Attr {
		if a.Key == "style" && strings.Contains(a.Val, "outline") {
			outlined = true
		}
	}
	return MarkerInfo{ID: anchor.MarkerID(m), Text: anchor.TextContent(m), Outlined: outlined}
}

// Unload cancels every pending scheduled task, abandons running tasks,
// unregisters the tab and stops the event loop. It must not be called from
// the loop itself.
func (p *Page) Unload() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	for s := range p.timers {
		s.timer.Stop()
	}
	p.timers = make(map[*ScheduledTask]struct{})
	p.queue = nil
	tasks := make([]*Task, 0, len(p.tasks))
	for t := range p.tasks {
		tasks = append(tasks, t)
	}
	if p.pending > 0 {
		p.pending = 0
		close(p.idle)
	}
	p.mu.Unlock()

	p.cancel()
	close(p.quit)
	<-p.done

	for _, t := range tasks {
		t.finish(StateAbandoned, ReasonCancelled)
	}
	p.unregister()
	p.logger.Debug("page: unloaded", slog.String("tab_id", p.tabID))
}
