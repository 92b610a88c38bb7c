package urlstate

import (
	"net/url"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestApplyPushSetsQueryParams(t *testing.T) {
	cur := mustURL(t, "/items?sort=asc")
	next := Apply(cur, Directive{Push: map[string]string{"page": "2"}})
	if next.Query().Get("page") != "2" {
		t.Errorf("expected page=2, got %q", next.RawQuery)
	}
	if next.Query().Get("sort") != "asc" {
		t.Error("expected existing query params preserved")
	}
}

func TestApplyPullDeletesQueryParams(t *testing.T) {
	cur := mustURL(t, "/items?sort=asc&page=2")
	next := Apply(cur, Directive{Pull: []string{"page"}})
	if next.Query().Has("page") {
		t.Error("expected page removed")
	}
	if next.Query().Get("sort") != "asc" {
		t.Error("expected sort preserved")
	}
}

func TestApplyPathReplacesPath(t *testing.T) {
	cur := mustURL(t, "/old/path?x=1")
	next := Apply(cur, Directive{Path: "/new/path"})
	if next.Path != "/new/path" {
		t.Errorf("expected path replaced, got %q", next.Path)
	}
	if next.Query().Get("x") != "1" {
		t.Error("expected query preserved across path replace")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	cur := mustURL(t, "/items?sort=asc")
	_ = Apply(cur, Directive{Push: map[string]string{"page": "2"}})
	if cur.Query().Has("page") {
		t.Error("expected original URL left untouched")
	}
}

func TestHistoryPushAndReplace(t *testing.T) {
	h := NewHistory(mustURL(t, "/a"))
	h.Push(mustURL(t, "/b"))
	if h.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", h.Len())
	}
	h.Replace(mustURL(t, "/c"))
	if h.Len() != 2 {
		t.Fatalf("expected replace to not grow the stack, got %d entries", h.Len())
	}
	if h.Current().Path != "/c" {
		t.Errorf("expected top entry /c, got %s", h.Current().Path)
	}
}

func TestHistoryBack(t *testing.T) {
	h := NewHistory(mustURL(t, "/a"))
	h.Push(mustURL(t, "/b"))
	prev := h.Back()
	if prev.Path != "/a" {
		t.Errorf("expected back to /a, got %s", prev.Path)
	}
	if h.Back() != nil {
		t.Error("expected nil when no further history remains")
	}
}

func TestApplyAndRecordNoopWhenDirectiveEmpty(t *testing.T) {
	h := NewHistory(mustURL(t, "/a"))
	got := ApplyAndRecord(h, Directive{})
	if got.Path != "/a" {
		t.Errorf("expected unchanged location, got %s", got.Path)
	}
	if h.Len() != 1 {
		t.Error("expected history untouched by an empty directive")
	}
}

func TestApplyAndRecordHistoryPushGrowsStack(t *testing.T) {
	h := NewHistory(mustURL(t, "/a"))
	ApplyAndRecord(h, Directive{Path: "/b", History: HistoryPush})
	if h.Len() != 2 {
		t.Errorf("expected push to grow the stack, got %d entries", h.Len())
	}
}

func TestApplyAndRecordHistoryReplaceDoesNotGrowStack(t *testing.T) {
	h := NewHistory(mustURL(t, "/a"))
	ApplyAndRecord(h, Directive{Path: "/b", History: HistoryReplace})
	if h.Len() != 1 {
		t.Errorf("expected replace to not grow the stack, got %d entries", h.Len())
	}
}
