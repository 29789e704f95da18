package models

import (
	"strings"
	"testing"
	"time"
)

func TestStripFragment(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a#b":          "https://example.com/a",
		"https://example.com/a?q=1#x#y":    "https://example.com/a?q=1",
		"https://example.com/a":            "https://example.com/a",
		"#only":                            "",
		"https://example.com/#highlight-x": "https://example.com/",
	}
	for in, want := range cases {
		if got := StripFragment(in); got != want {
			t.Errorf("StripFragment(%q) = %q, want %q", in, got, want)
		}
		if strings.Contains(StripFragment(in), "#") {
			t.Errorf("StripFragment(%q) still has a fragment", in)
		}
	}
}

func TestNewID_Format(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewID(now)
	if !strings.HasPrefix(id, "1700000000123-") {
		t.Errorf("id = %q, want millis prefix", id)
	}
	if NewID(now) == NewID(now) && NewID(now) == NewID(now) {
		t.Error("ids should differ in their random part")
	}
}

func TestDeepLinkRoundTrip(t *testing.T) {
	texts := []string{"hello world", "a+b = c", "50% off", "naïve café", "x#y&z"}
	for _, text := range texts {
		link := DeepLink("https://example.com/page#old", text)
		if !strings.HasPrefix(link, "https://example.com/page#highlight-") {
			t.Fatalf("link = %q", link)
		}
		got, ok, err := DeepLinkText(link)
		if err != nil || !ok {
			t.Fatalf("DeepLinkText(%q) = %q, %v, %v", link, got, ok, err)
		}
		if got != text {
			t.Errorf("round trip = %q, want %q", got, text)
		}
	}
}

func TestDeepLinkText_NoHighlightFragment(t *testing.T) {
	for _, u := range []string{"https://example.com/", "https://example.com/#section-2"} {
		_, ok, err := DeepLinkText(u)
		if ok || err != nil {
			t.Errorf("DeepLinkText(%q) ok=%v err=%v", u, ok, err)
		}
	}
}

func TestDeepLinkText_BadEscape(t *testing.T) {
	for _, u := range []string{
		"https://example.com/#highlight-%zz",
		"https://example.com/#highlight-%FF",
		"https://example.com/#highlight-%C3%28",
	} {
		if _, ok, err := DeepLinkText(u); err == nil || ok {
			t.Errorf("DeepLinkText(%q) ok=%v err=%v, want decode error", u, ok, err)
		}
	}
}

func TestSelectorMatches_IDFirst(t *testing.T) {
	a := Highlight{ID: "1", Text: "same", URL: "https://a.test/", Title: "A"}
	b := Highlight{ID: "2", Text: "same", URL: "https://b.test/", Title: "B"}

	byID := Selector{ID: "2", Text: "same", URL: "https://a.test/", Title: "A"}
	if byID.Matches(a) {
		t.Error("id selector must not match on fields")
	}
	if !byID.Matches(b) {
		t.Error("id selector should match by id")
	}

	byFields := Selector{Text: "same", URL: "https://a.test/#frag", Title: "A"}
	if !byFields.Matches(a) || byFields.Matches(b) {
		t.Error("field selector should match only the exact text/url/title")
	}
}

func TestHighlightValidate(t *testing.T) {
	ok := Highlight{ID: "1", Text: "t", URL: "https://x.test/"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid highlight: %v", err)
	}
	if err := (Highlight{URL: "https://x.test/"}).Validate(); err == nil {
		t.Error("empty text should fail")
	}
	if err := (Highlight{Text: "t", URL: "https://x.test/#f"}).Validate(); err == nil {
		t.Error("fragment url should fail")
	}
}
