package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/cache"
	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/fetchclient"
	"github.com/monstercameron/htmlex-go/hooks"
	"github.com/monstercameron/htmlex-go/scheduler"
	"github.com/monstercameron/htmlex-go/signalbus"
	"github.com/monstercameron/htmlex-go/urlstate"
)

func newTestEngine(t *testing.T, srv *httptest.Server, markup string) (*Engine, *domupdate.Document) {
	t.Helper()
	doc, err := domupdate.ParseDocument(strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	var base *url.URL
	if srv != nil {
		base, _ = url.Parse(srv.URL)
	}
	fc := fetchclient.New(http.DefaultClient, cache.New(), doc, signalbus.New(), scheduler.New(), hooks.NewRegistry(), urlstate.NewHistory(base), base)
	e := New(doc, fc, fc.Bus, fc.Scheduler)
	return e, doc
}

func findEl(t *testing.T, doc *domupdate.Document, sel string) *html.Node {
	t.Helper()
	s, err := doc.Query(sel)
	if err != nil {
		t.Fatal(err)
	}
	if s.Length() == 0 {
		t.Fatalf("no match for %s", sel)
	}
	return s.Nodes[0]
}

func TestInitializeRegistersMatchingElements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><button GET="/x">go</button><div>plain</div></body></html>`)
	e.Initialize()

	btn := findEl(t, doc, "button")
	if _, ok := e.Binding(btn); !ok {
		t.Error("expected button to be registered")
	}
	div := findEl(t, doc, "div")
	if _, ok := e.Binding(div); ok {
		t.Error("expected plain div not to be registered")
	}
}

func TestInitializeIsIdempotentAcrossRescans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><button GET="/x">go</button></body></html>`)
	e.Initialize()
	btn := findEl(t, doc, "button")
	b1, _ := e.Binding(btn)

	e.Scan(doc.Root())
	b2, _ := e.Binding(btn)

	if b1 != b2 {
		t.Error("expected re-scan not to replace the existing binding")
	}
}

func TestFireIssuesCallAndAppliesFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<fragment target="#out(innerHTML)"><p>done</p></fragment>`))
	}))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><button id="b" GET="`+srv.URL+`/go" target="#out(innerHTML)">go</button><div id="out"></div></body></html>`)
	e.Initialize()
	btn := findEl(t, doc, "#b")

	if err := e.Fire(context.Background(), btn, "click", btn); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		out, _ := doc.Render()
		if strings.Contains(out, "<p>done</p>") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected fragment applied after Fire")
}

func TestFireIgnoresBubbledClickFromDescendant(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><div id="d" GET="`+srv.URL+`/x"><span id="s">inner</span></div></body></html>`)
	e.Initialize()
	d := findEl(t, doc, "#d")
	s := findEl(t, doc, "#s")

	e.Fire(context.Background(), d, "click", s)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if hits != 0 {
		t.Errorf("expected bubbled click to be ignored, got %d hits", hits)
	}
}

func TestFireOnWrongEventNameIsNoop(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><button id="b" GET="`+srv.URL+`/x">go</button></body></html>`)
	e.Initialize()
	btn := findEl(t, doc, "#b")

	e.Fire(context.Background(), btn, "hover", btn)
	time.Sleep(50 * time.Millisecond)

	if hits != 0 {
		t.Errorf("expected no call for unmatched trigger event, got %d", hits)
	}
}

func TestPublishOnlyBindingSkipsNetworkCall(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><button id="b" publish="ready">go</button></body></html>`)
	e.Initialize()
	btn := findEl(t, doc, "#b")

	var published bool
	e.Bus.Subscribe("ready", func(payload interface{}) { published = true })

	e.Fire(context.Background(), btn, "click", btn)

	if hits != 0 {
		t.Errorf("expected no network call for publish-only binding, got %d", hits)
	}
	if !published {
		t.Error("expected publish signal to fire")
	}
}

func TestAutoPrefetchFiresOnRegistration(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	e, _ := newTestEngine(t, srv, `<html><body><div GET="`+srv.URL+`/x" auto="prefetch"></div></body></html>`)
	e.Initialize()

	select {
	case <-hit:
	case <-time.After(time.Second):
		t.Fatal("expected auto=prefetch to fire immediately on registration")
	}
}

func TestAutoLazyFiresExactlyOnceOnMarkVisible(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	e, doc := newTestEngine(t, srv, `<html><body><div id="d" GET="`+srv.URL+`/x" auto="lazy"></div></body></html>`)
	e.Initialize()
	d := findEl(t, doc, "#d")

	e.MarkVisible(context.Background(), d)
	e.MarkVisible(context.Background(), d)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Errorf("expected exactly one fire for auto=lazy, got %d", hits)
	}
}

func TestSubscribeInvokesBoundAction(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	e, _ := newTestEngine(t, srv, `<html><body><div GET="`+srv.URL+`/x" subscribe="go"></div></body></html>`)
	e.Initialize()

	e.Bus.Publish("go", nil)

	select {
	case <-hit:
	case <-time.After(time.Second):
		t.Fatal("expected subscribe to invoke the bound action")
	}
}

func TestTimerRemovesElementWhenNoTargetOrMethod(t *testing.T) {
	e, doc := newTestEngine(t, nil, `<html><body><div id="d" timer="20"></div></body></html>`)
	e.Initialize()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		out, _ := doc.Render()
		if !strings.Contains(out, `id="d"`) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected timer to remove the element")
}

func TestPollBelowMinimumIntervalIsRefused(t *testing.T) {
	e, doc := newTestEngine(t, nil, `<html><body><div id="d" GET="/x" poll="10"></div></body></html>`)
	e.Initialize()
	d := findEl(t, doc, "#d")
	b, ok := e.Binding(d)
	if !ok {
		t.Fatal("expected binding to be registered")
	}
	if b.PollInterval != 0 {
		t.Errorf("expected sub-minimum poll interval to be refused, got %v", b.PollInterval)
	}
}
