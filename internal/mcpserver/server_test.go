package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/testutil"
)

func testServer(t *testing.T) (*Server, *highlightservice.Service) {
	t.Helper()

	svc := highlightservice.NewService(testutil.TestStore(t), testutil.TestDB(t), testutil.Logger())
	coord := background.New(svc, messaging.NewBus(testutil.Logger()), testutil.Logger())
	return New(svc, coord), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var (
		result *mcp.CallToolResult
		err    error
	)
	switch name {
	case "list_highlights":
		result, err = srv.listHighlights(ctx, req)
	case "search_highlights":
		result, err = srv.searchHighlights(ctx, req)
	case "save_highlight":
		result, err = srv.saveHighlight(ctx, req)
	case "delete_highlight":
		result, err = srv.deleteHighlight(ctx, req)
	case "export_highlights":
		result, err = srv.exportHighlights(ctx, req)
	case "get_highlight_link":
		result, err = srv.getHighlightLink(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func saveViaTool(t *testing.T, srv *Server, text, url string) models.Highlight {
	t.Helper()
	r := callTool(t, srv, "save_highlight", map[string]any{"text": text, "url": url, "title": "T"})
	if r.IsError {
		t.Fatalf("save: %s", resultText(r))
	}
	var h models.Highlight
	if err := json.Unmarshal([]byte(resultText(r)), &h); err != nil {
		t.Fatalf("decode save result: %v", err)
	}
	return h
}

func TestSaveAndListHighlights(t *testing.T) {
	srv, _ := testServer(t)
	saveViaTool(t, srv, "first", "https://a.test/one#x")
	saveViaTool(t, srv, "second", "https://a.test/two")

	r := callTool(t, srv, "list_highlights", map[string]any{"url": "https://a.test/one"})
	var hs []models.Highlight
	_ = json.Unmarshal([]byte(resultText(r)), &hs)
	if len(hs) != 1 || hs[0].Text != "first" || hs[0].URL != "https://a.test/one" {
		t.Errorf("list = %+v", hs)
	}

	r = callTool(t, srv, "list_highlights", map[string]any{})
	_ = json.Unmarshal([]byte(resultText(r)), &hs)
	if len(hs) != 2 {
		t.Errorf("list all = %d, want 2", len(hs))
	}
}

func TestSaveHighlight_Rejected(t *testing.T) {
	srv, _ := testServer(t)
	if r := callTool(t, srv, "save_highlight", map[string]any{"text": "x", "url": "file:///etc/passwd"}); !r.IsError {
		t.Error("expected error for non-web url")
	}
	if r := callTool(t, srv, "save_highlight", map[string]any{"url": "https://a.test/"}); !r.IsError {
		t.Error("expected error for missing text")
	}
}

func TestSearchHighlights(t *testing.T) {
	srv, _ := testServer(t)
	saveViaTool(t, srv, "a rare zebracorn sighting", "https://a.test/")

	r := callTool(t, srv, "search_highlights", map[string]any{"query": "zebracorn"})
	if !strings.Contains(resultText(r), "zebracorn") {
		t.Errorf("search = %q", resultText(r))
	}
	r = callTool(t, srv, "search_highlights", map[string]any{"query": "unicorn"})
	if resultText(r) != "no highlights found" {
		t.Errorf("empty search = %q", resultText(r))
	}
}

func TestDeleteHighlight(t *testing.T) {
	srv, svc := testServer(t)
	h := saveViaTool(t, srv, "gone soon", "https://a.test/")

	r := callTool(t, srv, "delete_highlight", map[string]any{"id": h.ID})
	if resultText(r) != "deleted: "+h.ID {
		t.Errorf("delete = %q", resultText(r))
	}
	if _, err := svc.Get(context.Background(), h.ID); err == nil {
		t.Error("highlight still present")
	}
	if r := callTool(t, srv, "delete_highlight", map[string]any{"id": h.ID}); !r.IsError {
		t.Error("expected error deleting twice")
	}
}

func TestExportHighlights(t *testing.T) {
	srv, _ := testServer(t)
	saveViaTool(t, srv, "exported", "https://a.test/")

	r := callTool(t, srv, "export_highlights", map[string]any{})
	if resultText(r) != "\"exported\"\nT\nhttps://a.test/\n" {
		t.Errorf("txt export = %q", resultText(r))
	}
	r = callTool(t, srv, "export_highlights", map[string]any{"format": "md"})
	if !strings.Contains(resultText(r), "> exported") {
		t.Errorf("md export = %q", resultText(r))
	}
}

func TestGetHighlightLink(t *testing.T) {
	srv, _ := testServer(t)
	h := saveViaTool(t, srv, "a b", "https://a.test/p")

	r := callTool(t, srv, "get_highlight_link", map[string]any{"id": h.ID})
	if resultText(r) != "https://a.test/p#highlight-a%20b" {
		t.Errorf("link = %q", resultText(r))
	}
	if r := callTool(t, srv, "get_highlight_link", map[string]any{"id": "missing"}); !r.IsError {
		t.Error("expected error for missing id")
	}
}
