package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/reader"
	"github.com/starford/vault/internal/render"
	"github.com/starford/vault/internal/review"
)

// PageReader renders a page with its stored highlights applied.
type PageReader interface {
	Annotate(ctx context.Context, rawURL string) (*reader.Result, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc    *highlightservice.Service
	coord  *background.Coordinator
	bus    *messaging.Bus
	reader PageReader
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		svc:    deps.Highlights,
		coord:  deps.Coordinator,
		bus:    deps.Bus,
		reader: deps.Reader,
	}
}

// ListHighlights handles GET /api/highlights.
//
//	@Summary		List highlights, optionally for one page or matching a query
//	@Tags			highlights
//	@Produce		json
//	@Param			url	query		string	false	"Page URL (fragment ignored)"
//	@Param			q	query		string	false	"Case-insensitive substring of text, title or url"
//	@Success		200	{object}	HighlightListResponse
//	@Security		BearerAuth
//	@Router			/highlights [get]
func (h *Handler) ListHighlights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hs, err := h.svc.List(r.Context(), highlightservice.Query{URL: q.Get("url"), Text: q.Get("q")})
	if err != nil {
		writeError(w, "list highlights", err)
		return
	}
	writeJSON(w, http.StatusOK, HighlightListResponse{Highlights: hs, Total: len(hs)})
}

// SaveHighlight handles POST /api/highlights.
//
//	@Summary		Save a selection
//	@Tags			highlights
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveHighlightRequest	true	"Selection to save"
//	@Success		201		{object}	Highlight
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights [post]
func (h *Handler) SaveHighlight(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SaveHighlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	saved, err := h.coord.SaveSelection(r.Context(), background.Tab{
		ID:    req.TabID,
		URL:   req.URL,
		Title: req.Title,
	}, req.Text)
	if err != nil {
		writeError(w, "save highlight", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// GetHighlight handles GET /api/highlights/{id}.
//
//	@Summary		Get a highlight by id
//	@Tags			highlights
//	@Produce		json
//	@Param			id	path		string	true	"Highlight id"
//	@Success		200	{object}	Highlight
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights/{id} [get]
func (h *Handler) GetHighlight(w http.ResponseWriter, r *http.Request) {
	hl, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get highlight", err)
		return
	}
	writeJSON(w, http.StatusOK, hl)
}

// DeleteHighlight handles DELETE /api/highlights/{id}.
//
//	@Summary		Delete a highlight by id
//	@Tags			highlights
//	@Param			id	path	string	true	"Highlight id"
//	@Success		204	"Highlight deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights/{id} [delete]
func (h *Handler) DeleteHighlight(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Delete(r.Context(), models.Selector{ID: chi.URLParam(r, "id")}); err != nil {
		writeError(w, "delete highlight", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHighlightByFields handles DELETE /api/highlights?text=&url=&title=.
// It removes the first record whose text, url and title all match, which is
// the only way to address records saved without an id.
//
//	@Summary		Delete a highlight by its fields
//	@Tags			highlights
//	@Param			text	query	string	true	"Highlight text"
//	@Param			url		query	string	true	"Page URL"
//	@Param			title	query	string	false	"Page title"
//	@Success		204		"Highlight deleted"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights [delete]
func (h *Handler) DeleteHighlightByFields(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel := models.Selector{Text: q.Get("text"), URL: q.Get("url"), Title: q.Get("title")}
	if _, err := h.svc.Delete(r.Context(), sel); err != nil {
		writeError(w, "delete highlight", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HighlightLink handles GET /api/highlights/{id}/link.
//
//	@Summary		Deep link that re-highlights the text on its page
//	@Tags			highlights
//	@Produce		json
//	@Param			id	path		string	true	"Highlight id"
//	@Success		200	{object}	LinkResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlights/{id}/link [get]
func (h *Handler) HighlightLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.Link(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "highlight link", err)
		return
	}
	writeJSON(w, http.StatusOK, LinkResponse{Link: link})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across highlights
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Export handles GET /api/export.
//
//	@Summary		Download every highlight
//	@Tags			highlights
//	@Produce		plain,json,markdown
//	@Param			format	query	string	false	"Export format"	Enums(txt, json, md)
//	@Success		200		{file}	file
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = review.FormatText
	}
	hs, err := h.svc.List(r.Context(), highlightservice.Query{})
	if err != nil {
		writeError(w, "export", err)
		return
	}
	var buf bytes.Buffer
	if err := review.Export(&buf, hs, format); err != nil {
		writeError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", review.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+review.Filename(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Page handles GET /api/page.
//
//	@Summary		Render a page with its stored highlights applied
//	@Tags			page
//	@Produce		json,html
//	@Param			url		query		string	true	"Page URL"
//	@Param			format	query		string	false	"Response format"	Enums(json, html)
//	@Success		200		{object}	PageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/page [get]
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("page rendering is disabled"))
		return
	}
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'url' is required"))
		return
	}
	res, err := h.reader.Annotate(r.Context(), pageURL)
	if err != nil {
		switch {
		case errors.Is(err, render.ErrDisallowed):
			writeJSON(w, http.StatusForbidden, errorBody("disallowed by robots.txt"))
		case errors.Is(err, reader.ErrRender):
			slog.Warn("page render failed", slog.String("url", pageURL), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		default:
			writeError(w, "page", err)
		}
		return
	}
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(res.HTML))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PostMessage handles POST /api/messages.
//
//	@Summary		Send a runtime message to the background coordinator
//	@Tags			messaging
//	@Accept			json
//	@Produce		json
//	@Param			X-Tab-ID	header		string			false	"Sending tab"
//	@Param			body		body		MessageRequest	true	"Runtime message"
//	@Success		200			{object}	messaging.Response
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/messages [post]
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	from := messaging.Sender{
		TabID: r.Header.Get("X-Tab-ID"),
		URL:   models.StripFragment(req.URL),
		Title: req.Title,
	}
	resp, err := h.bus.Request(r.Context(), from, messaging.Message{
		Type: req.Type,
		Text: req.Text,
		ID:   req.ID,
		URL:  models.StripFragment(req.URL),
	})
	if err != nil {
		writeError(w, "message", err)
		return
	}
	if resp.Highlights == nil {
		resp.Highlights = []models.Highlight{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// TabEvents handles GET /api/tabs/{tabID}/events.
//
//	@Summary		Stream messages addressed to a tab (Server-Sent Events)
//	@Tags			messaging
//	@Produce		text/event-stream
//	@Param			tabID	path	string	true	"Tab id"
//	@Success		200
//	@Security		BearerAuth
//	@Router			/tabs/{tabID}/events [get]
func (h *Handler) TabEvents(w http.ResponseWriter, r *http.Request) {
	h.bus.ServeTab(w, r, chi.URLParam(r, "tabID"))
}
