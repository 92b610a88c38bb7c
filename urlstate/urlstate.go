// Package urlstate implements the engine's URL-state mutation (§4.J):
// applying an element's push/pull/path directives to the current
// location and choosing between pushing a new history entry or
// replacing the current one, plus an in-process History stack standing
// in for the browser's session history since a headless engine has no
// window.history to delegate to.
package urlstate

import (
	"net/url"
	"sync"
)

// Directive is one element's parsed URL-state attributes.
type Directive struct {
	Push    map[string]string // push="key=value ..." — set each query param
	Pull    []string          // pull="key key2" — delete each query param
	Path    string            // path="/new/path" — replace the path
	History HistoryMode
}

// HistoryMode chooses push vs replace semantics.
type HistoryMode int

const (
	HistoryReplace HistoryMode = iota
	HistoryPush
)

// HasAny reports whether the directive carries any of push/pull/path —
// URL state is only touched at all when at least one is present.
func (d Directive) HasAny() bool {
	return len(d.Push) > 0 || len(d.Pull) > 0 || d.Path != ""
}

// Apply mutates a copy of current per d: setting push params, deleting
// pull params, and replacing the path if set. It never mutates current.
func Apply(current *url.URL, d Directive) *url.URL {
	next := *current
	q := next.Query()
	for k, v := range d.Push {
		q.Set(k, v)
	}
	for _, k := range d.Pull {
		q.Del(k)
	}
	next.RawQuery = q.Encode()
	if d.Path != "" {
		next.Path = d.Path
	}
	return &next
}

// History is an in-process stack standing in for the browser's session
// history. Push appends a new entry; Replace overwrites the top entry.
// Back pops and returns the previous entry, or nil if there is none.
type History struct {
	mu      sync.Mutex
	entries []*url.URL
}

// NewHistory creates a History seeded with the given initial location.
func NewHistory(initial *url.URL) *History {
	return &History{entries: []*url.URL{initial}}
}

// Push appends u as a new top-of-stack entry.
func (h *History) Push(u *url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, u)
}

// Replace overwrites the current top-of-stack entry with u.
func (h *History) Replace(u *url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		h.entries = []*url.URL{u}
		return
	}
	h.entries[len(h.entries)-1] = u
}

// Current returns the top-of-stack entry.
func (h *History) Current() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1]
}

// Back pops the top entry and returns the new top, or nil if there was
// only one entry left (can't go back further).
func (h *History) Back() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) <= 1 {
		return nil
	}
	h.entries = h.entries[:len(h.entries)-1]
	return h.entries[len(h.entries)-1]
}

// Len reports the number of entries currently on the stack.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// ApplyAndRecord applies d to hist's current entry and pushes or
// replaces per d.History, returning the new current location. A
// no-op directive leaves hist untouched and returns the current entry.
func ApplyAndRecord(hist *History, d Directive) *url.URL {
	if !d.HasAny() {
		return hist.Current()
	}
	next := Apply(hist.Current(), d)
	if d.History == HistoryPush {
		hist.Push(next)
	} else {
		hist.Replace(next)
	}
	return next
}
