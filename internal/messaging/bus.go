// Package messaging routes runtime messages between the background
// coordinator and page contexts.
//
// Pages talk to the background with Request, or with Notify when they do not
// need an answer. The background talks to a page
// with SendToTab, which reaches either an in-process page context registered
// with RegisterTab or a remote one connected through ServeTab.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/sse"
)

// Message kinds.
const (
	KindHighlightText        = "highlightText"
	KindGetHighlightsForPage = "getHighlightsForPage"
	KindGetAllHighlights     = "getAllHighlights"
)

var (
	// ErrTabNotReady means no page context is listening on the tab.
	ErrTabNotReady = errors.New("messaging: tab not ready")
	// ErrNoReceiver means no background handler is installed.
	ErrNoReceiver = errors.New("messaging: no receiver")
)

// Message is a runtime message. Unused fields stay empty.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Response answers a Request.
type Response struct {
	Highlights []models.Highlight `json:"highlights"`
}

// Sender describes the tab a request comes from.
type Sender struct {
	TabID string `json:"tab_id,omitempty"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// RequestHandler answers requests sent to the background.
type RequestHandler func(ctx context.Context, from Sender, msg Message) (Response, error)

// TabHandler receives messages sent to a tab. It must not block.
type TabHandler func(msg Message)

// Bus is an in-process message router. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu         sync.RWMutex
	background RequestHandler
	tabs       map[string]*registration
}

type registration struct {
	handler TabHandler
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		tabs:   make(map[string]*registration),
	}
}

// HandleRequests installs the background receiver, replacing any previous one.
func (b *Bus) HandleRequests(h RequestHandler) {
	b.mu.Lock()
	b.background = h
	b.mu.Unlock()
}

// Request delivers msg to the background and waits for its answer.
func (b *Bus) Request(ctx context.Context, from Sender, msg Message) (Response, error) {
	b.mu.RLock()
	h := b.background
	b.mu.RUnlock()
	if h == nil {
		return Response{}, ErrNoReceiver
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	resp, err := h(ctx, from, msg)
	if err != nil {
		return Response{}, fmt.Errorf("messaging: %s: %w", msg.Type, err)
	}
	return resp, nil
}

// Notify delivers msg to the background without waiting for its answer. The
// handler runs on its own goroutine; its response is dropped and errors are
// logged.
func (b *Bus) Notify(ctx context.Context, from Sender, msg Message) error {
	b.mu.RLock()
	h := b.background
	b.mu.RUnlock()
	if h == nil {
		return ErrNoReceiver
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := h(ctx, from, msg); err != nil {
			b.logger.Warn("messaging: notify failed",
				slog.String("type", msg.Type),
				slog.String("tab_id", from.TabID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// RegisterTab routes messages for tabID to h until the returned func is called.
// A later registration for the same tab replaces the earlier one.
func (b *Bus) RegisterTab(tabID string, h TabHandler) (unregister func()) {
	reg := &registration{handler: h}
	b.mu.Lock()
	b.tabs[tabID] = reg
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// Only drop our own registration.
			if b.tabs[tabID] == reg {
				delete(b.tabs, tabID)
			}
		})
	}
}

// SendToTab delivers msg to the page context registered for tabID.
func (b *Bus) SendToTab(tabID string, msg Message) error {
	b.mu.RLock()
	reg, ok := b.tabs[tabID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotReady, tabID)
	}
	reg.handler(msg)
	return nil
}

// Tabs returns the ids of registered tabs.
func (b *Bus) Tabs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	return ids
}

// ServeTab streams messages for tabID as Server-Sent Events until the client
// disconnects. The stream registers the tab for its lifetime.
func (b *Bus) ServeTab(w http.ResponseWriter, r *http.Request, tabID string) {
	ch := make(chan []byte, 64)
	unregister := b.RegisterTab(tabID, func(msg Message) {
		frame, err := sse.Frame(msg.Type, msg)
		if err != nil {
			return
		}
		select {
		case ch <- frame:
		default:
			b.logger.Warn("messaging: tab stream full, dropping message",
				slog.String("tab_id", tabID),
				slog.String("type", msg.Type))
		}
	})
	defer unregister()

	b.logger.Debug("messaging: tab connected", slog.String("tab_id", tabID))
	sse.Stream(w, r, ch)
	b.logger.Debug("messaging: tab disconnected", slog.String("tab_id", tabID))
}
