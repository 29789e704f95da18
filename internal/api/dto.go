package api

import (
	"github.com/starford/vault/internal/index"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/reader"
)

// SaveHighlightRequest is the request body for saving a selection.
type SaveHighlightRequest struct {
	Text  string `json:"text" example:"the quick brown fox" validate:"required"`
	URL   string `json:"url" example:"https://example.com/article" validate:"required"`
	Title string `json:"title" example:"Example article"`
	// TabID, when set, names a connected tab that should highlight the text now.
	TabID string `json:"tab_id,omitempty" example:"tab-1"`
}

// Highlight is the stored highlight (aliased from the domain layer).
type Highlight = models.Highlight

// HighlightListResponse wraps highlight listings.
type HighlightListResponse struct {
	Highlights []Highlight `json:"highlights" validate:"required"`
	Total      int         `json:"total" example:"42" validate:"required"`
}

// LinkResponse carries a deep link that re-highlights text on its page.
type LinkResponse struct {
	Link string `json:"link" example:"https://example.com/article#highlight-the%20quick" validate:"required"`
}

// SearchResult is a single search hit (aliased from the index layer).
type SearchResult = index.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// PageResponse is an annotated page (aliased from the reader).
type PageResponse = reader.Result

// MessageRequest is a runtime message posted by a remote page context.
type MessageRequest struct {
	Type  string `json:"type" example:"getHighlightsForPage" validate:"required"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	URL   string `json:"url,omitempty" example:"https://example.com/article"`
	Title string `json:"title,omitempty"`
}
