// Package review holds the state behind the highlight browser: filtering,
// a carousel cursor over the visible highlights, and exports.
package review

import (
	"strings"

	"github.com/starford/vault/internal/models"
)

// State is a snapshot of the collection plus view settings. It is not safe
// for concurrent use.
type State struct {
	all    []models.Highlight
	query  string
	page   string
	cursor int
}

// NewState starts a review over hs with the cursor on the first highlight.
func NewState(hs []models.Highlight) *State {
	return &State{all: append([]models.Highlight(nil), hs...)}
}

// Reset replaces the collection and clamps the cursor.
func (s *State) Reset(hs []models.Highlight) {
	s.all = append(s.all[:0], hs...)
	s.clamp()
}

// SetQuery filters by a case-insensitive substring of text, title or url.
func (s *State) SetQuery(q string) {
	s.query = strings.ToLower(strings.TrimSpace(q))
	s.cursor = 0
}

// SetPage restricts the view to one page url; empty shows all pages.
func (s *State) SetPage(pageURL string) {
	s.page = models.StripFragment(pageURL)
	s.cursor = 0
}

// Visible returns the highlights passing the filters, in save order.
func (s *State) Visible() []models.Highlight {
	out := make([]models.Highlight, 0, len(s.all))
	for _, h := range s.all {
		if s.page != "" && h.URL != s.page {
			continue
		}
		if s.query != "" && !matches(h, s.query) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Current returns the highlight under the cursor.
func (s *State) Current() (models.Highlight, bool) {
	v := s.Visible()
	if len(v) == 0 {
		return models.Highlight{}, false
	}
	if s.cursor >= len(v) {
		s.cursor = len(v) - 1
	}
	return v[s.cursor], true
}

// Position returns the zero-based cursor and the number of visible highlights.
func (s *State) Position() (int, int) {
	n := len(s.Visible())
	if n == 0 {
		return 0, 0
	}
	if s.cursor >= n {
		return n - 1, n
	}
	return s.cursor, n
}

// Next moves the cursor forward, stopping at the last highlight.
func (s *State) Next() {
	if s.cursor < len(s.Visible())-1 {
		s.cursor++
	}
}

// Prev moves the cursor back, stopping at the first highlight.
func (s *State) Prev() {
	if s.cursor > 0 {
		s.cursor--
	}
}

// RemoveCurrent drops the highlight under the cursor from the local view and
// returns a selector for deleting it from the store. The cursor stays at the
// same index, or moves to the new last highlight.
func (s *State) RemoveCurrent() (models.Selector, bool) {
	cur, ok := s.Current()
	if !ok {
		return models.Selector{}, false
	}
	for i, h := range s.all {
		if h == cur {
			s.all = append(s.all[:i], s.all[i+1:]...)
			break
		}
	}
	s.clamp()
	return models.Selector{ID: cur.ID, Text: cur.Text, URL: cur.URL, Title: cur.Title}, true
}

func (s *State) clamp() {
	n := len(s.Visible())
	switch {
	case n == 0:
		s.cursor = 0
	case s.cursor >= n:
		s.cursor = n - 1
	}
}

// DisplayTitle is the part of a page title before the first '|', trimmed.
func DisplayTitle(title string) string {
	before, _, _ := strings.Cut(title, "|")
	return strings.TrimSpace(before)
}

func matches(h models.Highlight, q string) bool {
	return strings.Contains(strings.ToLower(h.Text), q) ||
		strings.Contains(strings.ToLower(h.Title), q) ||
		strings.Contains(strings.ToLower(h.URL), q)
}
