package background

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/starford/vault/internal/apperr"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/testutil"
)

type tabRecorder struct {
	mu   sync.Mutex
	msgs []messaging.Message
}

func (r *tabRecorder) handle(msg messaging.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *tabRecorder) messages() []messaging.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messaging.Message(nil), r.msgs...)
}

func setup(t *testing.T) (*Coordinator, *highlightservice.Service, *messaging.Bus) {
	t.Helper()
	svc := highlightservice.NewService(testutil.TestStore(t), testutil.TestDB(t), testutil.Logger())
	bus := messaging.NewBus(testutil.Logger())
	return New(svc, bus, testutil.Logger()), svc, bus
}

func TestSaveSelection(t *testing.T) {
	c, svc, bus := setup(t)
	rec := &tabRecorder{}
	bus.RegisterTab("7", rec.handle)

	h, err := c.SaveSelection(context.Background(), Tab{ID: "7", URL: "https://a.test/post#comments", Title: "Post | Blog"}, "quoted text")
	if err != nil {
		t.Fatalf("SaveSelection: %v", err)
	}
	if h.URL != "https://a.test/post" || h.Title != "Post | Blog" || h.ID == "" {
		t.Errorf("saved = %+v", h)
	}

	all, _ := svc.List(context.Background(), highlightservice.Query{})
	if len(all) != 1 {
		t.Fatalf("stored = %+v", all)
	}

	msgs := rec.messages()
	if len(msgs) != 1 || msgs[0].Type != messaging.KindHighlightText || msgs[0].Text != "quoted text" || msgs[0].ID != h.ID {
		t.Errorf("tab messages = %+v", msgs)
	}
}

func TestSaveSelection_TabNotReadyStillSaves(t *testing.T) {
	c, svc, _ := setup(t)
	if _, err := c.SaveSelection(context.Background(), Tab{ID: "gone", URL: "http://a.test/"}, "x"); err != nil {
		t.Fatalf("SaveSelection: %v", err)
	}
	all, _ := svc.List(context.Background(), highlightservice.Query{})
	if len(all) != 1 {
		t.Errorf("stored = %+v", all)
	}
}

func TestSaveSelection_Rejects(t *testing.T) {
	c, svc, _ := setup(t)
	cases := []struct {
		url, sel string
	}{
		{"chrome://extensions", "x"},
		{"file:///tmp/a.html", "x"},
		{"https://a.test/", "   "},
	}
	for _, tc := range cases {
		if _, err := c.SaveSelection(context.Background(), Tab{URL: tc.url}, tc.sel); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("SaveSelection(%q, %q) err = %v", tc.url, tc.sel, err)
		}
	}
	all, _ := svc.List(context.Background(), highlightservice.Query{})
	if len(all) != 0 {
		t.Errorf("nothing should be stored: %+v", all)
	}
}

func TestHandle_ReplaysPageHighlights(t *testing.T) {
	c, svc, bus := setup(t)
	ctx := context.Background()
	_, _ = svc.Save(ctx, models.Highlight{ID: "1", Text: "one", URL: "https://a.test/"})
	_, _ = svc.Save(ctx, models.Highlight{ID: "2", Text: "two", URL: "https://b.test/"})
	_, _ = svc.Save(ctx, models.Highlight{ID: "3", Text: "three", URL: "https://a.test/"})

	rec := &tabRecorder{}
	bus.RegisterTab("t", rec.handle)

	resp, err := bus.Request(ctx, messaging.Sender{TabID: "t"}, messaging.Message{Type: messaging.KindGetHighlightsForPage, URL: "https://a.test/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Highlights) != 2 {
		t.Errorf("response = %+v", resp)
	}
	msgs := rec.messages()
	if len(msgs) != 2 || msgs[0].Text != "one" || msgs[1].Text != "three" {
		t.Errorf("replayed = %+v", msgs)
	}

	all, err := c.Handle(ctx, messaging.Sender{}, messaging.Message{Type: messaging.KindGetAllHighlights})
	if err != nil || len(all.Highlights) != 3 {
		t.Errorf("all = %+v, %v", all, err)
	}

	if _, err := c.Handle(ctx, messaging.Sender{}, messaging.Message{Type: "bogus"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("unknown type err = %v", err)
	}
}
