package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/starford/vault/internal/models"
)

const maxBodyBytes = 10 << 20

// StaticOptions configure a Static renderer.
type StaticOptions struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimit is requests per second per host; zero disables limiting.
	RateLimit float64
	Burst     int
	// CacheTTL keeps fetched bodies; zero disables the cache.
	CacheTTL      time.Duration
	RespectRobots bool
	Client        *http.Client
	Logger        *slog.Logger
}

// Static renders pages with a single HTTP GET. Scripts do not run.
type Static struct {
	client    *http.Client
	userAgent string
	limiter   *hostLimiter
	cache     *gocache.Cache
	robots    *robotsChecker
	logger    *slog.Logger
}

type cachedPage struct {
	body        []byte
	contentType string
}

// NewStatic creates a Static renderer.
func NewStatic(opts StaticOptions) *Static {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "VaultBot/1.0"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Static{
		client:    client,
		userAgent: ua,
		limiter:   newHostLimiter(opts.RateLimit, opts.Burst),
		logger:    logger,
	}
	if opts.CacheTTL > 0 {
		s.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	if opts.RespectRobots {
		s.robots = newRobotsChecker(client, ua, opts.CacheTTL)
	}
	return s
}

// Render fetches rawURL and parses it. Non-HTML responses yield an empty
// document so callers can still inspect the content type.
func (s *Static) Render(ctx context.Context, rawURL string) (*Snapshot, error) {
	u, err := checkURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := models.StripFragment(rawURL)

	page, err := s.fetch(ctx, key, u.Host, func() error {
		if s.robots != nil && !s.robots.allowed(ctx, u) {
			return fmt.Errorf("%w: %s", ErrDisallowed, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{URL: rawURL, ContentType: page.contentType}
	if !isHTML(page.contentType) {
		snap.Doc = emptyDocument()
		return snap, nil
	}
	r, err := charset.NewReader(bytes.NewReader(page.body), page.contentType)
	if err != nil {
		return nil, fmt.Errorf("render: charset: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("render: parse html: %w", err)
	}
	snap.Doc = doc
	snap.Title = documentTitle(doc)
	return snap, nil
}

func (s *Static) fetch(ctx context.Context, key, host string, precheck func() error) (cachedPage, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.logger.Debug("render: cache hit", slog.String("url", key))
			return v.(cachedPage), nil
		}
	}
	if err := precheck(); err != nil {
		return cachedPage{}, err
	}
	if err := s.limiter.Wait(ctx, host); err != nil {
		return cachedPage{}, fmt.Errorf("render: rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return cachedPage{}, fmt.Errorf("render: new request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return cachedPage{}, fmt.Errorf("render: get %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return cachedPage{}, fmt.Errorf("render: get %s: status %d", key, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return cachedPage{}, fmt.Errorf("render: read body: %w", err)
	}

	page := cachedPage{body: body, contentType: resp.Header.Get("Content-Type")}
	if page.contentType == "" {
		page.contentType = http.DetectContentType(body)
	}
	if s.cache != nil {
		s.cache.SetDefault(key, page)
	}
	s.logger.Debug("render: fetched",
		slog.String("url", key),
		slog.Int("status", resp.StatusCode),
		slog.String("content_type", page.contentType))
	return page, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
