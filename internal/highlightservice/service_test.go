package highlightservice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/vault/internal/apperr"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/testutil"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(testutil.TestStore(t), testutil.TestDB(t), testutil.Logger())
}

func TestSave_AssignsIDAndStripsFragment(t *testing.T) {
	svc := newService(t)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }

	h, err := svc.Save(context.Background(), models.Highlight{Text: "x", URL: "https://a.test/p#sec", Title: "P"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(h.ID, "1700000000000-") {
		t.Errorf("id = %q", h.ID)
	}
	if h.URL != "https://a.test/p" {
		t.Errorf("url = %q", h.URL)
	}
}

func TestSave_Invalid(t *testing.T) {
	svc := newService(t)
	_, err := svc.Save(context.Background(), models.Highlight{URL: "https://a.test/"})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestSave_DuplicateID(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	h := models.Highlight{ID: "1", Text: "x", URL: "https://a.test/"}
	if _, err := svc.Save(ctx, h); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Save(ctx, h); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestListAndFilters(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for _, h := range []models.Highlight{
		{ID: "1", Text: "Alpha", URL: "https://a.test/", Title: "A"},
		{ID: "2", Text: "beta", URL: "https://b.test/", Title: "Bravo"},
		{ID: "3", Text: "gamma", URL: "https://a.test/", Title: "A"},
	} {
		if _, err := svc.Save(ctx, h); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := svc.List(ctx, Query{})
	if len(all) != 3 || all[0].ID != "1" || all[2].ID != "3" {
		t.Errorf("all = %+v", all)
	}
	page, _ := svc.ListForPage(ctx, "https://a.test/#frag")
	if len(page) != 2 {
		t.Errorf("page = %+v", page)
	}
	q, _ := svc.List(ctx, Query{Text: "ALPHA"})
	if len(q) != 1 || q[0].ID != "1" {
		t.Errorf("query = %+v", q)
	}
	q, _ = svc.List(ctx, Query{Text: "bravo"})
	if len(q) != 1 || q[0].ID != "2" {
		t.Errorf("title query = %+v", q)
	}
}

func TestDelete_IDFirst(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, _ = svc.Save(ctx, models.Highlight{ID: "1", Text: "same", URL: "https://a.test/", Title: "A"})
	_, _ = svc.Save(ctx, models.Highlight{ID: "2", Text: "same", URL: "https://a.test/", Title: "A"})

	got, err := svc.Delete(ctx, models.Selector{ID: "2", Text: "same", URL: "https://a.test/", Title: "A"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "2" {
		t.Errorf("deleted %q, want 2", got.ID)
	}
	rest, _ := svc.List(ctx, Query{})
	if len(rest) != 1 || rest[0].ID != "1" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestDelete_ByFields(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, _ = svc.Save(ctx, models.Highlight{ID: "1", Text: "t", URL: "https://a.test/", Title: "A"})

	if _, err := svc.Delete(ctx, models.Selector{Text: "t", URL: "https://a.test/", Title: "other"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("partial match err = %v", err)
	}
	if _, err := svc.Delete(ctx, models.Selector{Text: "t", URL: "https://a.test/#x", Title: "A"}); err != nil {
		t.Errorf("field delete: %v", err)
	}
	if _, err := svc.Delete(ctx, models.Selector{}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("empty selector err = %v", err)
	}
}

func TestOnChange(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	var kinds []string
	svc.OnChange(func(kind string, h models.Highlight) { kinds = append(kinds, kind+":"+h.ID) })

	_, _ = svc.Save(ctx, models.Highlight{ID: "1", Text: "t", URL: "https://a.test/"})
	_, _ = svc.Delete(ctx, models.Selector{ID: "1"})
	if strings.Join(kinds, ",") != "created:1,deleted:1" {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestSearchAndLink(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, _ = svc.Save(ctx, models.Highlight{ID: "1", Text: "needle in a haystack", URL: "https://a.test/p", Title: "A"})

	res, err := svc.Search(ctx, "needle", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "1" {
		t.Errorf("search = %+v", res)
	}

	link, err := svc.Link(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if link != "https://a.test/p#highlight-needle%20in%20a%20haystack" {
		t.Errorf("link = %q", link)
	}
	if _, err := svc.Link(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing link err = %v", err)
	}
}
