package render

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

// robotsChecker caches robots.txt per host.
type robotsChecker struct {
	client    *http.Client
	userAgent string
	cache     *gocache.Cache
}

func newRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *robotsChecker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &robotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     gocache.New(ttl, 2*ttl),
	}
}

// allowed reports whether u may be fetched. robots.txt that cannot be
// fetched or parsed allows everything.
func (r *robotsChecker) allowed(ctx context.Context, u *url.URL) bool {
	data, err := r.data(ctx, u)
	if err != nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, productToken(r.userAgent))
}

func (r *robotsChecker) data(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host
	if v, ok := r.cache.Get(key); ok {
		return v.(*robotstxt.RobotsData), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("render: robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var data *robotstxt.RobotsData
	if resp.StatusCode == http.StatusNotFound {
		data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	} else {
		data, err = robotstxt.FromResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("render: parse robots.txt: %w", err)
		}
	}
	r.cache.SetDefault(key, data)
	return data, nil
}

// productToken reduces "VaultBot/1.0 (+url)" to "VaultBot".
func productToken(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ua
	}
	product, _, _ := strings.Cut(fields[0], "/")
	return product
}
