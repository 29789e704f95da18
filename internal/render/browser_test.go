package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/starford/vault/internal/anchor"
)

func TestBrowserRender_RunsScripts(t *testing.T) {
	if os.Getenv("VAULT_TEST_BROWSER") == "" {
		t.Skip("VAULT_TEST_BROWSER not set")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>JS</title></head><body><div id="app"></div>
<script>document.getElementById("app").textContent = "built by script";</script></body></html>`))
	}))
	defer srv.Close()

	b := NewBrowser(BrowserOptions{ControlURL: os.Getenv("VAULT_TEST_BROWSER_URL"), Timeout: 20 * time.Second})
	defer b.Close()

	snap, err := b.Render(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if snap.Title != "JS" {
		t.Errorf("title = %q", snap.Title)
	}
	if _, ok := anchor.Resolve(snap.Doc, "built by script"); !ok {
		t.Error("script output missing from snapshot")
	}
}
