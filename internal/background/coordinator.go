// Package background is the long-lived coordinator behind every tab: it saves
// selections and answers runtime messages from page contexts.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/starford/vault/internal/apperr"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
)

// Tab is the browsing context a selection was made in.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Coordinator saves highlights and serves bus requests.
type Coordinator struct {
	svc    *highlightservice.Service
	bus    *messaging.Bus
	logger *slog.Logger
}

// New creates a coordinator and installs it as the bus's request handler.
func New(svc *highlightservice.Service, bus *messaging.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{svc: svc, bus: bus, logger: logger}
	bus.HandleRequests(c.Handle)
	return c
}

// SaveSelection stores the selected text of an http(s) tab and asks the tab
// to highlight it right away. A tab that is not listening only gets a warning.
func (c *Coordinator) SaveSelection(ctx context.Context, tab Tab, selection string) (models.Highlight, error) {
	if strings.TrimSpace(selection) == "" {
		return models.Highlight{}, fmt.Errorf("%w: empty selection", apperr.ErrInvalid)
	}
	if !isWebPage(tab.URL) {
		return models.Highlight{}, fmt.Errorf("%w: not an http(s) page: %s", apperr.ErrInvalid, tab.URL)
	}

	h, err := c.svc.Save(ctx, models.Highlight{
		Text:  selection,
		URL:   tab.URL,
		Title: tab.Title,
	})
	if err != nil {
		return models.Highlight{}, err
	}
	c.logger.Info("background: highlight saved",
		slog.String("id", h.ID),
		slog.String("url", h.URL))

	if tab.ID != "" {
		err := c.bus.SendToTab(tab.ID, messaging.Message{Type: messaging.KindHighlightText, Text: h.Text, ID: h.ID})
		if err != nil {
			c.logger.Warn("background: could not message tab",
				slog.String("tab_id", tab.ID),
				slog.String("error", err.Error()))
		}
	}
	return h, nil
}

// Handle answers a runtime message from a page context.
func (c *Coordinator) Handle(ctx context.Context, from messaging.Sender, msg messaging.Message) (messaging.Response, error) {
	switch msg.Type {
	case messaging.KindGetHighlightsForPage:
		pageURL := msg.URL
		if pageURL == "" {
			pageURL = from.URL
		}
		hs, err := c.svc.ListForPage(ctx, pageURL)
		if err != nil {
			return messaging.Response{}, err
		}
		c.replay(from.TabID, hs)
		return messaging.Response{Highlights: hs}, nil

	case messaging.KindGetAllHighlights:
		hs, err := c.svc.List(ctx, highlightservice.Query{})
		if err != nil {
			return messaging.Response{}, err
		}
		return messaging.Response{Highlights: hs}, nil
	}
	return messaging.Response{}, fmt.Errorf("%w: unknown message type %q", apperr.ErrInvalid, msg.Type)
}

// replay sends one highlightText message per highlight to the tab.
func (c *Coordinator) replay(tabID string, hs []models.Highlight) {
	if tabID == "" {
		return
	}
	for _, h := range hs {
		err := c.bus.SendToTab(tabID, messaging.Message{Type: messaging.KindHighlightText, Text: h.Text, ID: h.ID})
		if errors.Is(err, messaging.ErrTabNotReady) {
			c.logger.Debug("background: tab not ready for replay", slog.String("tab_id", tabID))
			return
		}
	}
}

func isWebPage(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
