// Package highlightservice coordinates the collection store and the search index.
package highlightservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/vault/internal/apperr"
	"github.com/starford/vault/internal/index"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/storage"
)

// ChangeFunc is called after a successful mutation. kind is "created" or "deleted".
type ChangeFunc func(kind string, h models.Highlight)

// Query filters List. Empty fields match everything.
type Query struct {
	// URL matches the fragment-stripped page URL exactly.
	URL string
	// Text is a case-insensitive substring of text, title or url.
	Text string
}

// Service coordinates storage and index operations.
//
// Every mutation is a read-modify-write of the whole collection; mu
// serializes writers within this process only.
type Service struct {
	store  storage.Provider
	db     *index.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	onChange ChangeFunc
}

// NewService creates a new highlight service. db may be nil, in which case
// search is unavailable.
func NewService(store storage.Provider, db *index.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, db: db, logger: logger, now: time.Now}
}

// OnChange registers the mutation callback.
func (s *Service) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Save appends h to the collection. A missing id is generated; the url is
// stored without its fragment.
func (s *Service) Save(ctx context.Context, h models.Highlight) (models.Highlight, error) {
	h.URL = models.StripFragment(h.URL)
	if h.ID == "" {
		h.ID = models.NewID(s.now())
	}
	if err := h.Validate(); err != nil {
		return models.Highlight{}, fmt.Errorf("%w: %s", apperr.ErrInvalid, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hs, err := s.store.Get(ctx)
	if err != nil {
		return models.Highlight{}, fmt.Errorf("highlightservice: save: %w", err)
	}
	for _, existing := range hs {
		if existing.ID == h.ID {
			return models.Highlight{}, fmt.Errorf("%w: id %s", apperr.ErrAlreadyExists, h.ID)
		}
	}
	hs = append(hs, h)
	if err := s.store.Set(ctx, hs); err != nil {
		return models.Highlight{}, fmt.Errorf("highlightservice: save: %w", err)
	}
	s.reindexLocked(ctx)
	s.notifyLocked("created", h)
	return h, nil
}

// List returns the highlights matching q in save order.
func (s *Service) List(ctx context.Context, q Query) ([]models.Highlight, error) {
	hs, err := s.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("highlightservice: list: %w", err)
	}
	pageURL := models.StripFragment(q.URL)
	needle := strings.ToLower(q.Text)
	out := make([]models.Highlight, 0, len(hs))
	for _, h := range hs {
		if pageURL != "" && h.URL != pageURL {
			continue
		}
		if needle != "" && !containsFold(h, needle) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// ListForPage returns the highlights saved from pageURL.
func (s *Service) ListForPage(ctx context.Context, pageURL string) ([]models.Highlight, error) {
	return s.List(ctx, Query{URL: pageURL})
}

// Get returns the highlight with id.
func (s *Service) Get(ctx context.Context, id string) (models.Highlight, error) {
	hs, err := s.store.Get(ctx)
	if err != nil {
		return models.Highlight{}, fmt.Errorf("highlightservice: get: %w", err)
	}
	for _, h := range hs {
		if h.ID == id {
			return h, nil
		}
	}
	return models.Highlight{}, apperr.ErrNotFound
}

// Delete removes the first highlight matching sel.
func (s *Service) Delete(ctx context.Context, sel models.Selector) (models.Highlight, error) {
	if sel.ID == "" && sel.Text == "" {
		return models.Highlight{}, fmt.Errorf("%w: empty selector", apperr.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hs, err := s.store.Get(ctx)
	if err != nil {
		return models.Highlight{}, fmt.Errorf("highlightservice: delete: %w", err)
	}
	for i, h := range hs {
		if !sel.Matches(h) {
			continue
		}
		rest := append(hs[:i:i], hs[i+1:]...)
		if err := s.store.Set(ctx, rest); err != nil {
			return models.Highlight{}, fmt.Errorf("highlightservice: delete: %w", err)
		}
		s.reindexLocked(ctx)
		s.notifyLocked("deleted", h)
		return h, nil
	}
	return models.Highlight{}, apperr.ErrNotFound
}

// Link returns the deep link that re-highlights id on its page.
func (s *Service) Link(ctx context.Context, id string) (string, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return models.DeepLink(h.URL, h.Text), nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("highlightservice: search: index not configured")
	}
	return s.db.Search(query, limit)
}

// Reindex brings the search index in line with the store.
func (s *Service) Reindex(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return index.Sync(ctx, s.db, s.store, s.logger, nil)
}

func (s *Service) reindexLocked(ctx context.Context) {
	if err := s.Reindex(ctx); err != nil {
		s.logger.Warn("highlightservice: reindex failed", slog.String("error", err.Error()))
	}
}

func (s *Service) notifyLocked(kind string, h models.Highlight) {
	if s.onChange != nil {
		s.onChange(kind, h)
	}
}

func containsFold(h models.Highlight, needle string) bool {
	return strings.Contains(strings.ToLower(h.Text), needle) ||
		strings.Contains(strings.ToLower(h.Title), needle) ||
		strings.Contains(strings.ToLower(h.URL), needle)
}
