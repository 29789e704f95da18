// Package sse streams collection changes as Server-Sent Events.
//
// Clients subscribe to the whole collection or to one page URL. Every change
// is sent as highlight.<kind> carrying the highlight, followed by a
// collection.updated event that lists the pages touched since the previous
// one. collection.updated is coalesced: at most one per window, and changes
// inside the window are flushed when it ends.
package sse

import (
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/starford/vault/internal/models"
)

// Change kinds accepted by Publish.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// Event names on the wire.
const (
	EventReady             = "ready"
	EventCollectionUpdated = "collection.updated"
	highlightEventPrefix   = "highlight."
)

const clientBuffer = 64

// HighlightEvent is the data of a highlight.<kind> event.
type HighlightEvent struct {
	Kind      string           `json:"kind"`
	Highlight models.Highlight `json:"highlight"`
}

// CollectionEvent is the data of a collection.updated event.
type CollectionEvent struct {
	URLs []string `json:"urls"`
}

// ReadyEvent is the first event on every subscription.
type ReadyEvent struct {
	URL string `json:"url,omitempty"`
}

type client struct {
	ch chan []byte
	// url is the fragment-stripped page filter; empty means every page.
	url string
}

// wants reports whether a change on pageURL concerns the client. A change
// whose page is unknown goes to everyone.
func (c *client) wants(pageURL string) bool {
	return c.url == "" || pageURL == "" || c.url == pageURL
}

func (c *client) send(frame []byte, logger *slog.Logger) {
	select {
	case c.ch <- frame:
	default:
		logger.Debug("sse: slow client, dropping event", slog.String("url", c.url))
	}
}

// Broker fans collection changes out to subscribers.
//
// Concurrency model: a single loop goroutine owns the clients, the pending
// page set and the flush timer. Public methods talk to it over channels.
type Broker struct {
	window time.Duration
	logger *slog.Logger

	subscribeCh   chan *client
	unsubscribeCh chan *client
	changeCh      chan HighlightEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends collection.updated at most once per
// window.
func NewBroker(window time.Duration, logger *slog.Logger) *Broker {
	if window <= 0 {
		window = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		window:        window,
		logger:        logger,
		subscribeCh:   make(chan *client),
		unsubscribeCh: make(chan *client),
		changeCh:      make(chan HighlightEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[*client]struct{})
	pending := make(map[string]struct{})
	var (
		lastFlush time.Time
		timer     *time.Timer
		timerC    <-chan time.Time
	)

	flush := func() {
		timerC = nil
		lastFlush = time.Now()
		if len(pending) == 0 {
			return
		}
		urls := make([]string, 0, len(pending))
		for u := range pending {
			urls = append(urls, u)
		}
		slices.Sort(urls)
		clear(pending)

		everything, err := Frame(EventCollectionUpdated, CollectionEvent{URLs: urls})
		if err != nil {
			b.logger.Warn("sse: encode failed", slog.String("error", err.Error()))
			return
		}
		for c := range clients {
			if c.url == "" {
				c.send(everything, b.logger)
				continue
			}
			if !slices.Contains(urls, c.url) && !slices.Contains(urls, "") {
				continue
			}
			// Page subscribers only learn about their own page.
			own, err := Frame(EventCollectionUpdated, CollectionEvent{URLs: []string{c.url}})
			if err == nil {
				c.send(own, b.logger)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			if timer != nil {
				timer.Stop()
			}
			for c := range clients {
				close(c.ch)
			}
			return

		case c := <-b.subscribeCh:
			clients[c] = struct{}{}
			if ready, err := Frame(EventReady, ReadyEvent{URL: c.url}); err == nil {
				c.send(ready, b.logger)
			}

		case c := <-b.unsubscribeCh:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.ch)
			}

		case ev := <-b.changeCh:
			frame, err := Frame(highlightEventPrefix+ev.Kind, ev)
			if err != nil {
				b.logger.Warn("sse: encode failed", slog.String("error", err.Error()))
				continue
			}
			for c := range clients {
				if c.wants(ev.Highlight.URL) {
					c.send(frame, b.logger)
				}
			}

			pending[ev.Highlight.URL] = struct{}{}
			if timerC != nil {
				continue
			}
			if wait := b.window - time.Since(lastFlush); wait > 0 {
				if timer == nil {
					timer = time.NewTimer(wait)
				} else {
					timer.Reset(wait)
				}
				timerC = timer.C
				continue
			}
			flush()

		case <-timerC:
			flush()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client for pageURL, or for every page when pageURL is
// empty. The first frame on the channel is a ready event. The returned func
// ends the subscription and closes the channel.
func (b *Broker) Subscribe(pageURL string) (<-chan []byte, func()) {
	c := &client{ch: make(chan []byte, clientBuffer), url: models.StripFragment(pageURL)}
	if b.closed.Load() {
		close(c.ch)
		return c.ch, func() {}
	}
	select {
	case b.subscribeCh <- c:
	case <-b.stopped:
		close(c.ch)
		return c.ch, func() {}
	}
	return c.ch, func() {
		if b.closed.Load() {
			return
		}
		select {
		case b.unsubscribeCh <- c:
		case <-b.stopped:
		}
	}
}

// ClientCount returns the number of subscriptions.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish announces a change to h. kind is created, updated or deleted; other
// kinds are ignored.
func (b *Broker) Publish(kind string, h models.Highlight) {
	switch kind {
	case KindCreated, KindUpdated, KindDeleted:
	default:
		b.logger.Debug("sse: ignoring change", slog.String("kind", kind))
		return
	}
	if b.closed.Load() {
		return
	}
	h.URL = models.StripFragment(h.URL)
	select {
	case b.changeCh <- HighlightEvent{Kind: kind, Highlight: h}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint (GET /api/events). The optional url query
// parameter limits the stream to one page.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := b.Subscribe(r.URL.Query().Get("url"))
	defer unsubscribe()
	Stream(w, r, ch)
}
