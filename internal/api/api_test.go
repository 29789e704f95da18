package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/reader"
	"github.com/starford/vault/internal/render"
	"github.com/starford/vault/internal/testutil"
)

type testAPI struct {
	svc    *highlightservice.Service
	bus    *messaging.Bus
	router http.Handler
}

// testEnv wires a temp store, SQLite index, bus and coordinator behind the router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) *testAPI {
	t.Helper()
	return testEnvWith(t, authToken, Deps{})
}

func testEnvWith(t *testing.T, authToken string, deps Deps) *testAPI {
	t.Helper()

	svc := highlightservice.NewService(testutil.TestStore(t), testutil.TestDB(t), testutil.Logger())
	bus := messaging.NewBus(testutil.Logger())
	deps.Highlights = svc
	deps.Bus = bus
	deps.Coordinator = background.New(svc, bus, testutil.Logger())

	return &testAPI{
		svc:    svc,
		bus:    bus,
		router: NewRouter(deps, authToken != "", authToken),
	}
}

func (a *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, _ := json.Marshal(body)
		req = httptest.NewRequest(method, target, bytes.NewReader(raw))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) save(t *testing.T, text, url, title string) Highlight {
	t.Helper()
	w := a.do(t, http.MethodPost, "/highlights", SaveHighlightRequest{Text: text, URL: url, Title: title})
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	var h Highlight
	_ = json.Unmarshal(w.Body.Bytes(), &h)
	return h
}

func TestSaveAndGetHighlight(t *testing.T) {
	a := testEnv(t, "")

	saved := a.save(t, "quick brown fox", "https://example.com/a#frag", "Example | Site")
	if saved.ID == "" {
		t.Fatal("saved highlight has no id")
	}
	if saved.URL != "https://example.com/a" {
		t.Errorf("url = %q, fragment should be stripped", saved.URL)
	}

	w := a.do(t, http.MethodGet, "/highlights/"+saved.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got Highlight
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got != saved {
		t.Errorf("got %+v, want %+v", got, saved)
	}
}

func TestSaveHighlight_Invalid(t *testing.T) {
	a := testEnv(t, "")

	for name, body := range map[string]SaveHighlightRequest{
		"blank text":   {Text: "   ", URL: "https://example.com/"},
		"non-web page": {Text: "x", URL: "chrome://extensions"},
	} {
		t.Run(name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/highlights", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/highlights", strings.NewReader("{"))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestListHighlights(t *testing.T) {
	a := testEnv(t, "")
	a.save(t, "alpha", "https://a.test/one", "One")
	a.save(t, "beta", "https://a.test/two", "Two")
	a.save(t, "gamma", "https://a.test/one", "One")

	w := a.do(t, http.MethodGet, "/highlights", nil)
	var all HighlightListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &all)
	if all.Total != 3 {
		t.Errorf("total = %d, want 3", all.Total)
	}

	w = a.do(t, http.MethodGet, "/highlights?url=https://a.test/one%23x", nil)
	var page HighlightListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if page.Total != 2 || page.Highlights[0].Text != "alpha" || page.Highlights[1].Text != "gamma" {
		t.Errorf("page list = %+v", page.Highlights)
	}

	w = a.do(t, http.MethodGet, "/highlights?q=TWO", nil)
	var found HighlightListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &found)
	if found.Total != 1 || found.Highlights[0].Text != "beta" {
		t.Errorf("query list = %+v", found.Highlights)
	}
}

func TestDeleteHighlight(t *testing.T) {
	a := testEnv(t, "")
	h := a.save(t, "bye", "https://a.test/", "A")

	if w := a.do(t, http.MethodDelete, "/highlights/"+h.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := a.do(t, http.MethodGet, "/highlights/"+h.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := a.do(t, http.MethodDelete, "/highlights/"+h.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestDeleteHighlightByFields(t *testing.T) {
	a := testEnv(t, "")
	ctx := context.Background()

	a.save(t, "keep", "https://a.test/", "A")
	a.save(t, "old text", "https://a.test/", "A")

	if w := a.do(t, http.MethodDelete, "/highlights?text=old+text&url=https://a.test/&title=A", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete by fields = %d, body = %s", w.Code, w.Body.String())
	}
	hs, _ := a.svc.List(ctx, highlightservice.Query{})
	if len(hs) != 1 || hs[0].Text != "keep" {
		t.Errorf("remaining = %+v", hs)
	}

	if w := a.do(t, http.MethodDelete, "/highlights", nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty selector = %d, want 400", w.Code)
	}
}

func TestHighlightLink(t *testing.T) {
	a := testEnv(t, "")
	h := a.save(t, "hello world", "https://a.test/doc", "Doc")

	w := a.do(t, http.MethodGet, "/highlights/"+h.ID+"/link", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("link = %d", w.Code)
	}
	var resp LinkResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Link != "https://a.test/doc#highlight-hello%20world" {
		t.Errorf("link = %q", resp.Link)
	}

	if w := a.do(t, http.MethodGet, "/highlights/nope/link", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing link = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	a := testEnv(t, "")
	a.save(t, "uniquetoken here", "https://a.test/", "A")
	a.save(t, "something else", "https://a.test/", "A")

	w := a.do(t, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("search results = %d, want 1", len(resp.Results))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	a := testEnv(t, "")
	if w := a.do(t, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestExport(t *testing.T) {
	a := testEnv(t, "")
	a.save(t, "first", "https://a.test/1", "One")
	a.save(t, "second", "https://a.test/2", "Two")

	w := a.do(t, http.MethodGet, "/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	want := "\"first\"\nOne\nhttps://a.test/1\n\n---\n\"second\"\nTwo\nhttps://a.test/2\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "highlights.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	w = a.do(t, http.MethodGet, "/export?format=json", nil)
	var coll models.Collection
	if err := json.Unmarshal(w.Body.Bytes(), &coll); err != nil || len(coll.Highlights) != 2 {
		t.Errorf("json export = %s (%v)", w.Body.String(), err)
	}

	if w := a.do(t, http.MethodGet, "/export?format=pdf", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown format = %d, want 400", w.Code)
	}
}

type fakeReader struct {
	res *reader.Result
	err error
}

func (f fakeReader) Annotate(context.Context, string) (*reader.Result, error) {
	return f.res, f.err
}

func TestPage(t *testing.T) {
	res := &reader.Result{URL: "https://a.test/", Title: "A", HTML: "<p>annotated</p>"}
	a := testEnvWith(t, "", Deps{Reader: fakeReader{res: res}})

	w := a.do(t, http.MethodGet, "/page?url=https://a.test/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("page = %d", w.Code)
	}
	var got PageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.HTML != res.HTML {
		t.Errorf("html = %q", got.HTML)
	}

	w = a.do(t, http.MethodGet, "/page?url=https://a.test/&format=html", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") || w.Body.String() != res.HTML {
		t.Errorf("html format: ct=%q body=%q", ct, w.Body.String())
	}

	if w := a.do(t, http.MethodGet, "/page", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d, want 400", w.Code)
	}
}

func TestPage_Errors(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
		want int
	}{
		{"disabled", Deps{}, http.StatusServiceUnavailable},
		{"render failure", Deps{Reader: fakeReader{err: errors.Join(reader.ErrRender, errors.New("boom"))}}, http.StatusBadGateway},
		{"robots", Deps{Reader: fakeReader{err: errors.Join(reader.ErrRender, render.ErrDisallowed)}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testEnvWith(t, "", tt.deps)
			if w := a.do(t, http.MethodGet, "/page?url=https://a.test/", nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestPostMessage(t *testing.T) {
	a := testEnv(t, "")
	a.save(t, "on page", "https://a.test/p", "P")
	a.save(t, "elsewhere", "https://a.test/q", "Q")

	raw, _ := json.Marshal(MessageRequest{Type: messaging.KindGetHighlightsForPage, URL: "https://a.test/p#highlight-x"})
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(raw))
	req.Header.Set("X-Tab-ID", "remote-1")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("message = %d, body = %s", w.Code, w.Body.String())
	}
	var resp messaging.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Highlights) != 1 || resp.Highlights[0].Text != "on page" {
		t.Errorf("resp = %+v", resp)
	}

	w = a.do(t, http.MethodPost, "/messages", MessageRequest{Type: messaging.KindGetAllHighlights})
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Highlights) != 2 {
		t.Errorf("all = %+v", resp)
	}

	if w := a.do(t, http.MethodPost, "/messages", MessageRequest{Type: "reload"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown type = %d, want 400", w.Code)
	}
}

func TestTabEvents_ReceivesSavedSelection(t *testing.T) {
	a := testEnv(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/tabs/tab-7/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		a.router.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !slices.Contains(a.bus.Tabs(), "tab-7") {
		if time.Now().After(deadline) {
			t.Fatal("tab stream never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	a.do(t, http.MethodPost, "/highlights", SaveHighlightRequest{
		Text: "live text", URL: "https://a.test/", Title: "A", TabID: "tab-7",
	})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: highlightText") || !strings.Contains(body, `"text":"live text"`) {
		t.Errorf("stream body = %q", body)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	a := testEnv(t, "secret123")

	raw, _ := json.Marshal(SaveHighlightRequest{Text: "x", URL: "https://a.test/"})
	req := httptest.NewRequest(http.MethodPost, "/highlights", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	a := testEnv(t, "secret123")
	if w := a.do(t, http.MethodGet, "/highlights", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	a := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/highlights", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	a := testEnv(t, "")
	if w := a.do(t, http.MethodGet, "/highlights", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	a := testEnvWith(t, "secret", Deps{Events: blockingSSE})
	if w := a.do(t, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	a := testEnvWith(t, "", Deps{Events: blockingSSE})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	a := testEnvWith(t, "tok", Deps{Events: blockingSSE})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
