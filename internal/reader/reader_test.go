package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/page"
	"github.com/starford/vault/internal/render"
	"github.com/starford/vault/internal/testutil"
)

func TestAnnotate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Doc</title></head><body>
<p>hello <b>wor</b>ld</p>
<p onclick="steal()">second part</p>
<script>alert(1)</script>
</body></html>`))
	}))
	defer srv.Close()

	svc := highlightservice.NewService(testutil.TestStore(t), testutil.TestDB(t), testutil.Logger())
	bus := messaging.NewBus(testutil.Logger())
	background.New(svc, bus, testutil.Logger())

	ctx := context.Background()
	_, _ = svc.Save(ctx, models.Highlight{ID: "1", Text: "hello world", URL: srv.URL + "/doc", Title: "Doc"})
	_, _ = svc.Save(ctx, models.Highlight{ID: "2", Text: "second", URL: srv.URL + "/doc", Title: "Doc"})
	_, _ = svc.Save(ctx, models.Highlight{ID: "3", Text: "missing", URL: srv.URL + "/doc", Title: "Doc"})

	cfg := page.Config{MaxAttempts: 2, RetryDelay: 5 * time.Millisecond, OutlineDuration: time.Millisecond, ReapplyDelay: 10 * time.Millisecond}
	rd := New(render.NewStatic(render.StaticOptions{}), bus, cfg, 5*time.Second, testutil.Logger())

	res, err := rd.Annotate(ctx, srv.URL+"/doc")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if len(res.Markers) != 2 {
		t.Fatalf("markers = %+v", res.Markers)
	}
	if res.Title != "Doc" {
		t.Errorf("title = %q", res.Title)
	}
	for _, want := range []string{`class="vault-highlight"`, `data-vault-id="1"`, "hello <b>wor</b>ld", ".vault-highlight"} {
		if !strings.Contains(res.HTML, want) {
			t.Errorf("html missing %q:\n%s", want, res.HTML)
		}
	}
	for _, banned := range []string{"<script", "onclick", "alert(1)"} {
		if strings.Contains(res.HTML, banned) {
			t.Errorf("html kept %q", banned)
		}
	}
	if len(bus.Tabs()) != 0 {
		t.Errorf("reader tab left registered: %v", bus.Tabs())
	}
}
