// Package fetchclient implements the engine's fetch engine (§4.I):
// the per-binding request lifecycle covering form-body construction,
// cache lookups, the retry/timeout loop, streaming response
// consumption via the fragment decoder, URL-state application, signal
// emission, and poll launch. It is the component every other piece of
// the engine (cache, rate limiter, DOM updater, fragment parser,
// signal bus, URL state, hooks) is wired together through.
//
// Every request carries an X-Requested-With: HTMLeX header so a
// fragment-aware server can tell a binding's call apart from a full
// page navigation, and a response may answer with an
// X-HTMLeX-Redirect header to push a URL-state path change without
// encoding it as a push/pull token string.
package fetchclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/binding"
	"github.com/monstercameron/htmlex-go/cache"
	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/fragment"
	"github.com/monstercameron/htmlex-go/herr"
	"github.com/monstercameron/htmlex-go/hooks"
	"github.com/monstercameron/htmlex-go/logging"
	"github.com/monstercameron/htmlex-go/scheduler"
	"github.com/monstercameron/htmlex-go/signalbus"
	"github.com/monstercameron/htmlex-go/target"
	"github.com/monstercameron/htmlex-go/urlstate"
)

// Client is the engine's shared fetch engine. One Client serves every
// binding; per-call state lives entirely in the arguments passed to Perform.
type Client struct {
	HTTP      *http.Client
	Cache     *cache.Cache
	Doc       *domupdate.Document
	Bus       *signalbus.Bus
	Scheduler *scheduler.Scheduler
	Hooks     *hooks.Registry
	History   *urlstate.History
	BaseURL   *url.URL

	log *logging.Logger
}

// New builds a Client wired to the given shared engine components.
func New(httpClient *http.Client, c *cache.Cache, doc *domupdate.Document, bus *signalbus.Bus, sched *scheduler.Scheduler, hookReg *hooks.Registry, hist *urlstate.History, base *url.URL) *Client {
	return &Client{
		HTTP:      httpClient,
		Cache:     c,
		Doc:       doc,
		Bus:       bus,
		Scheduler: sched,
		Hooks:     hookReg,
		History:   hist,
		BaseURL:   base,
		log:       logging.System(),
	}
}

// PollLauncher starts a binding's poll worker. Supplied by the
// registry package to avoid an import cycle (registry depends on
// fetchclient to perform calls; fetchclient must not depend back on
// registry to launch polls).
type PollLauncher func(b *binding.Binding)

// Perform runs the full call lifecycle for b, per §4.I steps 1-13.
// launchPoll is invoked at step 13 if b.PollInterval is set and the
// binding hasn't already started polling.
func (c *Client) Perform(ctx context.Context, b *binding.Binding, launchPoll PollLauncher) {
	elLog := logging.Element(elementID(b.Element), b.Debug)

	c.Hooks.Run(ctx, b.OnBefore, &hooks.Context{Element: b.Element})

	body := c.buildBody(b)

	if len(b.Loading) > 0 {
		if err := c.Doc.Apply(b.Loading, b.Element, ""); err != nil {
			elLog.Warnf("loading placeholder swap failed: %v", err)
		}
	}

	reqURL, reqBody, err := c.composeRequest(b, body)
	if err != nil {
		elLog.Errorf("compose request: %v", err)
		return
	}

	cacheKey := reqURL
	if reqBody != "" {
		cacheKey += "#" + reqBody
	}
	if b.CacheTTL > 0 {
		if cached, ok := c.Cache.Get(cacheKey); ok {
			c.applyResponse(ctx, b, elLog, cached, nil, cacheKey)
			return
		}
	}

	attempts := b.Retry + 1
	var lastErr error
	var respBody string
	var respHeader http.Header
	var dec *fragment.Decoder

	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if b.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		}

		respBody, respHeader, dec, lastErr = c.doAttempt(attemptCtx, b, elLog, b.Method, reqURL, reqBody)
		if cancel != nil {
			cancel()
		}

		if ctx.Err() != nil {
			return // aborted by supersession; no onerror
		}

		if lastErr == nil {
			c.Hooks.Run(ctx, b.OnBeforeSwap, &hooks.Context{Element: b.Element, Response: respBody})
			break
		}

		elLog.Warnf("attempt %d/%d failed: %v", attempt+1, attempts, lastErr)
		if attempt < attempts-1 {
			continue
		}

		if len(b.OnError) > 0 {
			if err := c.Doc.Apply(b.OnError, b.Element, errorFragment(lastErr)); err != nil {
				elLog.Errorf("onerror swap failed: %v", err)
			}
		}
		return
	}

	c.finishResponse(ctx, b, elLog, dec, respBody, respHeader, cacheKey)

	if launchPoll != nil && (b.PollInterval > 0 || b.PollExpr != "") && !b.Runtime.PollDisabled() {
		launchPoll(b)
	}
}

// applyResponse decodes a complete, already-buffered response body (the
// cache-hit path, where there is no live stream to wrap) and runs the
// same finishing steps a live fetch does.
func (c *Client) applyResponse(ctx context.Context, b *binding.Binding, elLog *logging.Logger, body string, header http.Header, cacheKey string) {
	b.Runtime.ResetResponseState()
	dec := fragment.New()
	for _, block := range dec.Feed(body) {
		c.applyFragment(b, block, elLog)
	}
	c.finishResponse(ctx, b, elLog, dec, body, header, cacheKey)
}

// finishResponse runs the fallback swap, onafterSwap hook, URL state,
// Emit header, publish, cache store, and onafter steps shared by both
// the cache-hit short-circuit and the streamed fetch path, once a
// response's fragments have already been decoded and applied.
func (c *Client) finishResponse(ctx context.Context, b *binding.Binding, elLog *logging.Logger, dec *fragment.Decoder, body string, header http.Header, cacheKey string) {
	if fallback, ok := dec.Flush(); ok && len(b.Target) > 0 {
		if err := c.Doc.Apply(b.Target, b.Element, fallback); err != nil {
			elLog.Errorf("fallback swap failed: %v", err)
		}
	}
	c.Hooks.Run(ctx, b.OnAfterSwap, &hooks.Context{Element: b.Element, Response: body})

	if b.HasURLState {
		urlstate.ApplyAndRecord(c.History, urlstate.Directive{
			Push:    b.URLPush,
			Pull:    b.URLPull,
			Path:    b.URLPath,
			History: urlstate.HistoryMode(b.URLHistory),
		})
	}

	if header != nil {
		if emit := header.Get("Emit"); emit != "" {
			c.handleEmitHeader(emit)
		}
		if redirect := header.Get("X-HTMLeX-Redirect"); redirect != "" {
			urlstate.ApplyAndRecord(c.History, urlstate.Directive{Path: redirect, History: urlstate.HistoryPush})
		}
	}

	if b.Publish != "" {
		c.Bus.Publish(b.Publish, nil)
		if b.HasTimer {
			delay := b.TimerDelay
			time.AfterFunc(delay, func() { c.Bus.Publish(b.Publish, nil) })
		}
	}

	if b.CacheTTL > 0 {
		c.Cache.Put(cacheKey, body, int(b.CacheTTL.Milliseconds()))
	}

	c.Hooks.Run(ctx, b.OnAfter, &hooks.Context{Element: b.Element, Response: body})
}

func (c *Client) applyFragment(b *binding.Binding, block fragment.Block, elLog *logging.Logger) {
	instrs := block.Target
	if len(instrs) == 0 {
		if len(b.Target) > 0 {
			instrs = b.Target
		} else {
			instrs = []target.Instruction{{Selector: target.ThisSelector, Strategy: target.StrategyInnerHTML}}
		}
	} else {
		instrs = overrideThisTarget(instrs, b.Target)
	}

	apply := func() {
		if err := c.Doc.Apply(instrs, b.Element, block.HTML); err != nil {
			elLog.Errorf("apply fragment: %v", err)
			return
		}
		b.Runtime.MarkFragmentProcessed()
	}

	if b.Sequential && !b.Runtime.IsStreaming() {
		q := b.Runtime.SequentialQueue(b.SequentialDelay)
		done := make(chan struct{})
		q.Enqueue(func() <-chan struct{} { close(done); return done })
		q.EnqueueUpdate(apply)
		return
	}
	apply()
}

// overrideThisTarget replaces a "this"-selector instruction with the
// triggering element's own first target instruction, per §4.H step 2.
func overrideThisTarget(instrs []target.Instruction, ownTarget []target.Instruction) []target.Instruction {
	if len(ownTarget) == 0 {
		return instrs
	}
	out := make([]target.Instruction, len(instrs))
	copy(out, instrs)
	for i, in := range out {
		if in.Selector == target.ThisSelector {
			out[i] = ownTarget[0]
		}
	}
	return out
}

func (c *Client) handleEmitHeader(header string) {
	parts := strings.SplitN(header, ";", 2)
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return
	}
	var delay time.Duration
	if len(parts) == 2 {
		kv := strings.SplitN(strings.TrimSpace(parts[1]), "=", 2)
		if len(kv) == 2 && strings.TrimSpace(kv[0]) == "delay" {
			if ms, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil {
				delay = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, func() { c.Bus.Publish(name, nil) })
		return
	}
	c.Bus.Publish(name, nil)
}

// doAttempt performs one HTTP round trip and, on a successful status,
// streams the response body straight into a fragment.Decoder wrapping
// resp.Body, applying each fragment as its closing tag arrives instead
// of waiting for the full body to buffer. The returned Decoder carries
// any still-open remainder for finishResponse's fallback check.
func (c *Client) doAttempt(ctx context.Context, b *binding.Binding, elLog *logging.Logger, method binding.Method, reqURL, reqBody string) (string, http.Header, *fragment.Decoder, error) {
	var bodyReader io.Reader
	httpMethod := string(method)
	if httpMethod == "" {
		httpMethod = "GET"
	}
	if httpMethod != "GET" {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, reqURL, bodyReader)
	if err != nil {
		return "", nil, nil, herr.New(herr.KindMisconfiguration, "fetchclient: build request", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-Requested-With", "HTMLeX")
	req.Header.Set("Accept", "text/html")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", nil, nil, herr.New(herr.KindTransport, "fetchclient: request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", nil, nil, herr.New(herr.KindHTTPStatus, fmt.Sprintf("fetchclient: http status %d", resp.StatusCode), nil)
	}

	b.Runtime.ResetResponseState()
	dec := fragment.New()
	body, err := dec.Stream(resp.Body, 0, func(index int, blocks []fragment.Block) {
		if index > 0 {
			b.Runtime.SetStreaming(true)
		}
		for _, block := range blocks {
			c.applyFragment(b, block, elLog)
		}
	})
	if err != nil {
		return body, nil, nil, herr.New(herr.KindTransport, "fetchclient: read body", err)
	}

	return body, resp.Header, dec, nil
}

// composeRequest builds the final URL and body text for b given its
// collected form values: GET merges the body into the query string,
// every other method carries it as a urlencoded body.
func (c *Client) composeRequest(b *binding.Binding, body url.Values) (string, string, error) {
	endpoint := b.Endpoint
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("fetchclient: parse endpoint %q: %w", endpoint, err)
	}
	if c.BaseURL != nil && !u.IsAbs() {
		u = c.BaseURL.ResolveReference(u)
	}

	if b.Method == binding.MethodGet || b.Method == binding.MethodNone {
		q := u.Query()
		for k, vs := range body {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), "", nil
	}

	return u.String(), body.Encode(), nil
}

// buildBody collects form values per §4.I step 2: the element itself
// if it is a form, every named input/select/textarea descendant
// otherwise, every selector in Source, and every key=value in Extras.
func (c *Client) buildBody(b *binding.Binding) url.Values {
	values := url.Values{}

	collectFrom := func(root *html.Node) {
		walkFormFields(root, func(name, value string) {
			values.Add(name, value)
		})
	}

	if b.Element.Data == "form" {
		collectFrom(b.Element)
	} else {
		walkFormFields(b.Element, func(name, value string) {
			values.Add(name, value)
		})
	}

	for _, sel := range b.Source {
		nodes, err := c.Doc.Resolve(target.Instruction{Selector: sel}, b.Element)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			collectFrom(n)
		}
	}

	for k, v := range b.Extras {
		values.Add(k, v)
	}

	return values
}

// walkFormFields visits every input/select/textarea descendant of root
// (root included) that carries a name attribute, reading its current
// value from the value attribute — the closest headless analogue to a
// live form control's .value, since there is no real browser input state.
func walkFormFields(root *html.Node, visit func(name, value string)) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input", "select", "textarea":
				name, hasName := domupdate.Attr(n, "name")
				if hasName {
					value, _ := domupdate.Attr(n, "value")
					visit(name, value)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func errorFragment(err error) string {
	return fmt.Sprintf(`<div class="error">Error: %s</div>`, html.EscapeString(errMessage(err)))
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	return err.Error()
}

func elementID(el *html.Node) string {
	if v, ok := domupdate.Attr(el, "id"); ok {
		return v
	}
	return el.Data
}
