package page

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/starford/vault/internal/anchor"
)

// State of a highlight task.
type State int

const (
	StateAttempting State = iota
	StateSucceeded
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Reason explains why a task was abandoned.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonInvalidText Reason = "invalid text"
	ReasonDuplicate   Reason = "duplicate"
	ReasonUnsupported Reason = "unsupported surface"
	ReasonExhausted   Reason = "exhausted"
	ReasonCancelled   Reason = "cancelled"
)

// Result is a snapshot of a task's progress.
type Result struct {
	State    State
	Attempts int
	Reason   Reason
}

// Task is one highlight request. Each task keeps its own attempt counter.
type Task struct {
	page   *Page
	text   string
	id     string
	scroll bool

	mu     sync.Mutex
	result Result
	next   *ScheduledTask
	done   chan struct{}
}

// Done is closed when the task succeeds or is abandoned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the current state.
func (t *Task) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.Result(), nil
	case <-ctx.Done():
		return t.Result(), ctx.Err()
	}
}

// Cancel abandons the task and drops its pending retry.
func (t *Task) Cancel() {
	t.mu.Lock()
	next := t.next
	t.next = nil
	t.mu.Unlock()
	next.Cancel()
	t.finish(StateAbandoned, ReasonCancelled)
}

func (t *Task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task) finish(state State, reason Reason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result.State != StateAttempting {
		return false
	}
	t.result.State = state
	t.result.Reason = reason
	close(t.done)

	t.page.forget(t)
	return true
}

// attempt runs attempt n on the event loop.
func (t *Task) attempt(n int) {
	if t.finished() {
		return
	}
	p := t.page
	t.mu.Lock()
	t.result.Attempts = n + 1
	t.next = nil
	t.mu.Unlock()

	if t.text == "" {
		t.finish(StateAbandoned, ReasonInvalidText)
		return
	}
	if p.doc != nil && anchor.HasMarkerWithText(p.doc, t.text) {
		t.finish(StateAbandoned, ReasonDuplicate)
		return
	}
	if anchor.IsUnsupportedSurface(p.url, p.contentType) {
		p.logger.Info("page: highlighting not supported on this surface",
			slog.String("tab_id", p.tabID),
			slog.String("url", p.url))
		t.finish(StateAbandoned, ReasonUnsupported)
		return
	}

	if m, ok := p.tryApply(t.text, t.id); ok {
		if t.scroll {
			p.focus(m)
		}
		t.finish(StateSucceeded, ReasonNone)
		return
	}

	if t.finished() {
		return
	}
	if n < p.cfg.MaxAttempts {
		next := p.after(p.cfg.RetryDelay, true, func() { t.attempt(n + 1) })
		t.mu.Lock()
		t.next = next
		t.mu.Unlock()
		return
	}
	p.logger.Debug("page: text not found, giving up",
		slog.String("tab_id", p.tabID),
		slog.Int("attempts", n+1))
	t.finish(StateAbandoned, ReasonExhausted)
}

// tryApply resolves text across nodes and falls back to a single node.
func (p *Page) tryApply(text, id string) (*html.Node, bool) {
	if p.doc == nil {
		return nil, false
	}
	opts := anchor.ApplyOptions{ID: id}
	if r, ok := anchor.Resolve(p.doc, text); ok {
		m, err := anchor.Apply(r, text, opts)
		if err == nil {
			return m, true
		}
		p.logger.Debug("page: range wrap failed, trying single node",
			slog.String("tab_id", p.tabID),
			slog.String("error", err.Error()))
	}
	return anchor.ApplyWithinNode(p.doc, text, opts)
}

// focus scrolls the marker into view and outlines it for a while.
func (p *Page) focus(m *html.Node) {
	p.viewport.ScrollIntoView(m)
	anchor.Outline(m)
	p.focused = m
	p.after(p.cfg.OutlineDuration, false, func() {
		anchor.ClearOutline(m)
	})
}
