package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/net/html"
)

// BrowserOptions configure a Browser renderer.
type BrowserOptions struct {
	// ControlURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local headless Chrome on first use.
	ControlURL string
	Stealth    bool
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	Logger     *slog.Logger
}

// Browser renders pages in headless Chrome so that script-built content is
// present in the snapshot.
type Browser struct {
	opts    BrowserOptions
	limiter *hostLimiter
	logger  *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser creates a Browser renderer. Chrome is started lazily.
func NewBrowser(opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		opts:    opts,
		limiter: newHostLimiter(opts.RateLimit, opts.Burst),
		logger:  logger,
	}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.opts.ControlURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("render: launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.logger.Info("render: launched local chrome", slog.String("url", wsURL))
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("render: connect chrome: %w", err)
	}
	b.browser = br
	return br, nil
}

type pageDump struct {
	HTML        string `json:"html"`
	ContentType string `json:"contentType"`
	Title       string `json:"title"`
}

// Render navigates to rawURL, waits for the load event and returns the live DOM.
func (b *Browser) Render(ctx context.Context, rawURL string) (*Snapshot, error) {
	u, err := checkURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := b.limiter.Wait(ctx, u.Host); err != nil {
		return nil, fmt.Errorf("render: rate limit: %w", err)
	}
	br, err := b.connect()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if b.opts.Stealth {
		page, err = stealth.Page(br)
	} else {
		page, err = br.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("render: create tab: %w", err)
	}
	defer func() { _ = page.Close() }()

	navCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("render: navigate %s: %w", rawURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		b.logger.Warn("render: wait load timeout", slog.String("url", rawURL), slog.String("error", err.Error()))
	}

	res, err := p.Eval(`() => ({
		html: document.documentElement ? document.documentElement.outerHTML : "",
		contentType: document.contentType,
		title: document.title,
	})`)
	if err != nil {
		return nil, fmt.Errorf("render: read dom: %w", err)
	}
	var dump pageDump
	if err := res.Value.Unmarshal(&dump); err != nil {
		return nil, fmt.Errorf("render: decode dom: %w", err)
	}

	snap := &Snapshot{URL: rawURL, ContentType: dump.ContentType, Title: dump.Title}
	if !isHTML(dump.ContentType) {
		snap.Doc = emptyDocument()
		return snap, nil
	}
	doc, err := html.Parse(strings.NewReader(dump.HTML))
	if err != nil {
		return nil, fmt.Errorf("render: parse html: %w", err)
	}
	snap.Doc = doc
	return snap, nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
