// Package models defines the domain types for Vault.
package models

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DeepLinkPrefix is the fragment prefix that asks a page to highlight text on load.
const DeepLinkPrefix = "#highlight-"

// Highlight is a saved piece of page text with its origin.
type Highlight struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Validate checks the fields every stored highlight must carry.
func (h Highlight) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Text, validation.Required),
		validation.Field(&h.URL, validation.Required, validation.By(noFragment)),
	)
}

func noFragment(v any) error {
	s, _ := v.(string)
	if strings.Contains(s, "#") {
		return fmt.Errorf("must not contain a fragment")
	}
	return nil
}

// Collection is the whole persisted set of highlights, in save order.
type Collection struct {
	Highlights []Highlight `json:"highlights"`
}

// Selector identifies a highlight to delete. ID wins when set; otherwise
// Text, URL and Title must all match.
type Selector struct {
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Matches reports whether h is the highlight described by s.
func (s Selector) Matches(h Highlight) bool {
	if s.ID != "" {
		return h.ID == s.ID
	}
	return h.Text == s.Text && h.URL == StripFragment(s.URL) && h.Title == s.Title
}

// NewID returns a time+random identifier. Collisions are improbable, not impossible.
func NewID(now time.Time) string {
	return fmt.Sprintf("%d-%d", now.UnixMilli(), rand.IntN(1_000_000_000))
}

// StripFragment removes everything from the first '#'.
func StripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// DeepLink builds a shareable link that highlights text when the page loads.
func DeepLink(pageURL, text string) string {
	return StripFragment(pageURL) + DeepLinkPrefix + encodeURIComponent(text)
}

// DeepLinkText extracts the requested text from a page URL fragment.
// ok is false when the URL carries no highlight fragment.
func DeepLinkText(pageURL string) (text string, ok bool, err error) {
	i := strings.IndexByte(pageURL, '#')
	if i < 0 {
		return "", false, nil
	}
	decoded, err := url.PathUnescape(pageURL[i:])
	if err != nil {
		return "", false, fmt.Errorf("models: decode fragment: %w", err)
	}
	if !strings.HasPrefix(decoded, DeepLinkPrefix) {
		return "", false, nil
	}
	if !utf8.ValidString(decoded) {
		return "", false, fmt.Errorf("models: decode fragment: invalid UTF-8")
	}
	return strings.TrimPrefix(decoded, DeepLinkPrefix), true, nil
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
