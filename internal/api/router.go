package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
)

// Deps are the collaborators the API routes call into.
type Deps struct {
	Highlights  *highlightservice.Service
	Coordinator *background.Coordinator
	Bus         *messaging.Bus
	// Reader is optional; /page answers 503 without it.
	Reader PageReader
	// Events, if non-nil, is mounted at GET /events.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(deps Deps, authEnabled bool, token string) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Highlights.
	r.Get("/highlights", h.ListHighlights)
	r.Post("/highlights", h.SaveHighlight)
	r.Delete("/highlights", h.DeleteHighlightByFields)
	r.Get("/highlights/{id}", h.GetHighlight)
	r.Delete("/highlights/{id}", h.DeleteHighlight)
	r.Get("/highlights/{id}/link", h.HighlightLink)

	r.Get("/search", h.Search)
	r.Get("/export", h.Export)

	// Annotated page view.
	r.Get("/page", h.Page)

	// Runtime message bridge for remote page contexts.
	r.Post("/messages", h.PostMessage)
	r.Get("/tabs/{tabID}/events", h.TabEvents)

	if deps.Events != nil {
		r.Get("/events", deps.Events.ServeHTTP)
	}

	return r
}
