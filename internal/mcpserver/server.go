// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Vault tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/vault/internal/apperr"
	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/review"
)

// Server wraps the MCP server with Vault tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *highlightservice.Service
	coord *background.Coordinator
}

// New creates a new MCP server with all Vault tools registered.
func New(svc *highlightservice.Service, coord *background.Coordinator) *Server {
	s := &Server{svc: svc, coord: coord}

	s.mcp = server.NewMCPServer(
		"Vault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_highlights",
		mcp.WithDescription("List saved highlights, optionally only those from one page."),
		mcp.WithString("url", mcp.Description("Optional page URL; the #fragment is ignored")),
	), s.listHighlights)

	s.mcp.AddTool(mcp.NewTool("search_highlights",
		mcp.WithDescription("Full-text search through highlight text, page titles and URLs."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchHighlights)

	s.mcp.AddTool(mcp.NewTool("save_highlight",
		mcp.WithDescription("Save a piece of page text as a highlight. The text must appear "+
			"verbatim on the page; see the vault://highlight-format resource."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Exact text as it appears on the page")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL of the page")),
		mcp.WithString("title", mcp.Description("Page title")),
	), s.saveHighlight)

	s.mcp.AddTool(mcp.NewTool("delete_highlight",
		mcp.WithDescription("Delete a highlight by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Highlight id")),
	), s.deleteHighlight)

	s.mcp.AddTool(mcp.NewTool("export_highlights",
		mcp.WithDescription("Export every highlight as text, JSON or Markdown."),
		mcp.WithString("format", mcp.Description("txt (default), json or md"),
			mcp.Enum(review.FormatText, review.FormatJSON, review.FormatMarkdown)),
	), s.exportHighlights)

	s.mcp.AddTool(mcp.NewTool("get_highlight_link",
		mcp.WithDescription("Return a deep link that re-highlights the text when opened."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Highlight id")),
	), s.getHighlightLink)

	s.mcp.AddResource(
		mcp.NewResource("vault://highlight-format", "Highlight Format",
			mcp.WithResourceDescription("How highlights are stored, linked and exported."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readHighlightFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hs, err := s.svc.List(ctx, highlightservice.Query{URL: req.GetString("url", "")})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if hs == nil {
		hs = []models.Highlight{}
	}
	return jsonResult(hs), nil
}

func (s *Server) searchHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no highlights found"), nil
	}
	return jsonResult(results), nil
}

func (s *Server) saveHighlight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pageURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := s.coord.SaveSelection(ctx, background.Tab{
		URL:   pageURL,
		Title: req.GetString("title", ""),
	}, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(h), nil
}

func (s *Server) deleteHighlight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Delete(ctx, models.Selector{ID: id}); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) exportHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hs, err := s.svc.List(ctx, highlightservice.Query{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var sb strings.Builder
	if err := review.Export(&sb, hs, req.GetString("format", review.FormatText)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) getHighlightLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.svc.Link(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(link), nil
}

func (s *Server) readHighlightFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "vault://highlight-format",
			MIMEType: "text/markdown",
			Text:     HighlightFormat,
		},
	}, nil
}
