// Package registry implements the engine's registration/dispatcher
// layer (§4.L): the largest single component and the one every other
// package is wired through. It scans the document for elements
// carrying any recognized attribute, builds one Binding per element,
// and encodes each binding's trigger wiring, debounce/throttle
// composition, sequential-vs-cancel-then-issue dispatch, auto/poll/
// subscribe/timer sub-states, and WebSocket lifecycle.
//
// There is no real browser event loop headless, so "a triggering
// event fires the handler" becomes an explicit call to Fire, and
// "MutationObserver discovers new nodes" becomes the document's
// rescan hook calling back into Scan — both are the same state
// machine the specification describes, driven by an explicit call
// instead of a live DOM event.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/binding"
	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/fetchclient"
	"github.com/monstercameron/htmlex-go/logging"
	"github.com/monstercameron/htmlex-go/poll"
	"github.com/monstercameron/htmlex-go/ratelimit"
	"github.com/monstercameron/htmlex-go/scheduler"
	"github.com/monstercameron/htmlex-go/signalbus"
	"github.com/monstercameron/htmlex-go/target"
	"github.com/monstercameron/htmlex-go/wsocket"
)

// Engine is the single runtime object a host application constructs:
// it owns the document, the shared fetch client, the signal bus, and
// the registration state for every bound element.
type Engine struct {
	Doc       *domupdate.Document
	Fetch     *fetchclient.Client
	Bus       *signalbus.Bus
	Scheduler *scheduler.Scheduler

	// PollDriver builds the driver used for each launched poll worker,
	// given the firing binding's debug ID (used to namespace durable
	// task types). Defaults to poll.NewTickerDriver; a Redis-backed
	// deployment substitutes a factory closing over a jobs.Runtime to
	// build a poll.AsynqDriver per binding instead. A binding whose poll
	// attribute parsed as a cron expression bypasses this factory
	// entirely in favor of poll.NewCronDriver, regardless of what's
	// configured here.
	PollDriver func(id string) poll.Driver

	// Dialer opens WebSocket connections for socket-bearing bindings.
	// Defaults to wsocket.DefaultDialer.
	Dialer wsocket.Dialer

	log *logging.Logger

	mu       sync.Mutex
	bindings map[*html.Node]*binding.Binding
	sockets  map[*html.Node]*wsocket.Connection
}

// New builds an Engine wired to the given document and fetch client.
func New(doc *domupdate.Document, fetch *fetchclient.Client, bus *signalbus.Bus, sched *scheduler.Scheduler) *Engine {
	return &Engine{
		Doc:        doc,
		Fetch:      fetch,
		Bus:        bus,
		Scheduler:  sched,
		PollDriver: func(string) poll.Driver { return poll.NewTickerDriver() },
		Dialer:     wsocket.DefaultDialer,
		log:        logging.System(),
		bindings:   make(map[*html.Node]*binding.Binding),
		sockets:    make(map[*html.Node]*wsocket.Connection),
	}
}

// Initialize is the engine's one external entry point (§6 Runtime
// boundary): it scans the whole document and installs the rescan hook
// so later insertions (via the document updater's Apply) are
// registered the same way the initial scan registered everything.
func (e *Engine) Initialize() {
	e.Scan(e.Doc.Root())
	e.Doc.SetRescanHook(func(n *html.Node) { e.Scan(n) })
}

// Scan walks root and every descendant, registering each element that
// carries a recognized attribute. Already-registered elements are
// skipped by the per-binding sentinel, so re-scanning a live subtree
// (including the whole document) is always safe.
func (e *Engine) Scan(root *html.Node) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && HasRecognizedAttr(n) {
			e.register(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func (e *Engine) register(el *html.Node) {
	e.mu.Lock()
	if _, exists := e.bindings[el]; exists {
		e.mu.Unlock()
		return
	}
	b := ParseBinding(el)
	b.Runtime.TryRegister()
	e.bindings[el] = b
	e.mu.Unlock()

	e.setupAuto(b)

	if b.PollInterval > 0 || b.PollExpr != "" {
		e.launchPoll(b)
	}

	for _, name := range b.Subscribe {
		sig := name
		e.Bus.Subscribe(sig, func(payload interface{}) {
			e.invokeAction(context.Background(), b)
		})
	}

	if b.HasTimer && b.Runtime.MarkTimerScheduled() {
		time.AfterFunc(b.TimerDelay, func() { e.fireTimer(b) })
	}

	if b.SocketURL != "" {
		seq := b.Runtime.SequentialQueue(b.SequentialDelay)
		conn, err := wsocket.Connect(e.Dialer, b.SocketURL, e.Doc, el, b.Target, b.Sequential, seq, b.Debug)
		if err != nil {
			e.log.Warnf("socket connect failed for %s: %v", elementDebugID(el), err)
		} else {
			e.mu.Lock()
			e.sockets[el] = conn
			e.mu.Unlock()
		}
	}
}

// Binding looks up the binding registered for el, if any.
func (e *Engine) Binding(el *html.Node) (*binding.Binding, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bindings[el]
	return b, ok
}

// Fire simulates eventType occurring on el, with origin naming the
// actual node the event started at (itself for a direct hit, a
// descendant for a bubbled event). It is the headless substitute for
// addEventListener's callback invocation.
func (e *Engine) Fire(ctx context.Context, el *html.Node, eventType string, origin *html.Node) error {
	b, ok := e.Binding(el)
	if !ok {
		return fmt.Errorf("registry: %s is not a registered element", elementDebugID(el))
	}

	trigger := b.Trigger
	if trigger == "" {
		if el.Data == "form" {
			trigger = "submit"
		} else {
			trigger = "click"
		}
	}
	if !strings.EqualFold(trigger, eventType) {
		return nil
	}

	if el.Data != "form" && (strings.EqualFold(trigger, "click") || strings.EqualFold(trigger, "submit")) {
		if origin != nil && origin != el {
			return nil // bubbled from a descendant; ignored
		}
	}

	fire := ratelimit.Compose(func(evt interface{}) {
		e.invokeAction(ctx, b)
	}, b.Debounce, b.Throttle)
	fire(nil)
	return nil
}

// invokeAction runs a binding's configured action: a call if it
// carries a method, otherwise a bare publish.
func (e *Engine) invokeAction(ctx context.Context, b *binding.Binding) {
	if b.Method != binding.MethodNone {
		e.dispatchCall(ctx, b)
		return
	}
	if b.Publish != "" {
		e.Bus.Publish(b.Publish, nil)
	}
}

// dispatchCall issues b's API call per its sequential/non-sequential
// mode (§4.L Dispatch).
func (e *Engine) dispatchCall(ctx context.Context, b *binding.Binding) {
	if b.Sequential {
		q := b.Runtime.SequentialQueue(b.SequentialDelay)
		q.Enqueue(func() <-chan struct{} {
			done := make(chan struct{})
			go func() {
				defer close(done)
				e.Fetch.Perform(ctx, b, e.launchPoll)
			}()
			return done
		})
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	b.Runtime.SetCancel(cancel)
	e.Scheduler.Immediate(func() {
		defer cancel()
		e.Fetch.Perform(callCtx, b, e.launchPoll)
	})
}

// launchPoll starts b's repeating poll worker exactly once, per
// §4.L Poll. It is also the fetchclient.PollLauncher passed to Perform.
func (e *Engine) launchPoll(b *binding.Binding) {
	pollCtx, cancel := context.WithCancel(context.Background())
	if !b.Runtime.TrySchedulePoll(cancel) {
		cancel()
		return
	}

	var driver poll.Driver
	if b.PollExpr != "" {
		driver = poll.NewCronDriver(b.PollExpr)
	} else {
		driver = e.PollDriver(elementDebugID(b.Element))
	}
	ticks := driver.Start(pollCtx, b.PollInterval)

	go func() {
		for tick := range ticks {
			if tick.Err != nil {
				e.log.Warnf("poll tick error for %s: %v", elementDebugID(b.Element), tick.Err)
				continue
			}
			if b.Runtime.RecordPollTick(b.PollRepeat) {
				b.Runtime.DisablePoll()
				return
			}
			// Re-entrancy suppression: this goroutine is the ticks
			// channel's only reader, so Perform runs to completion
			// before the next tick is read — an overlapping tick
			// simply waits rather than firing concurrently.
			e.Fetch.Perform(pollCtx, b, nil)
		}
	}()
}

// setupAuto wires the auto attribute's three non-event-driven modes.
// AutoLazy has no headless observer; MarkVisible is the substitute a
// host calls once it considers the element "visible".
func (e *Engine) setupAuto(b *binding.Binding) {
	switch b.AutoMode {
	case binding.AutoDelay:
		time.AfterFunc(b.AutoDelay, func() { e.invokeAction(context.Background(), b) })
	case binding.AutoPrefetch:
		e.invokeAction(context.Background(), b)
	case binding.AutoLazy:
		// no-op until MarkVisible is called for this element
	}
}

// MarkVisible simulates el entering the viewport for an auto=lazy
// binding. It is a no-op for any other auto mode or an unregistered
// element, and fires at most once per element.
func (e *Engine) MarkVisible(ctx context.Context, el *html.Node) {
	b, ok := e.Binding(el)
	if !ok || b.AutoMode != binding.AutoLazy {
		return
	}
	if b.Runtime.MarkLazyObserved() {
		e.invokeAction(ctx, b)
	}
}

// fireTimer runs a timer-bound element's action-chain precedence
// (§4.L Timer sub-state).
func (e *Engine) fireTimer(b *binding.Binding) {
	switch {
	case b.Method != binding.MethodNone:
		e.Fetch.Perform(context.Background(), b, e.launchPoll)
	case b.Publish != "":
		e.Bus.Publish(b.Publish, nil)
	case hasRemoveInstruction(b.Target):
		if err := e.Doc.Apply(filterRemove(b.Target), b.Element, ""); err != nil {
			e.log.Warnf("timer remove failed: %v", err)
		}
	case len(b.Target) > 0:
		if err := e.Doc.Apply(b.Target, b.Element, ""); err != nil {
			e.log.Warnf("timer clear failed: %v", err)
		}
	default:
		self := []target.Instruction{{Selector: target.ThisSelector, Strategy: target.StrategyRemove}}
		if err := e.Doc.Apply(self, b.Element, ""); err != nil {
			e.log.Warnf("timer remove-self failed: %v", err)
		}
	}
}

func hasRemoveInstruction(instrs []target.Instruction) bool {
	for _, in := range instrs {
		if in.Strategy == target.StrategyRemove {
			return true
		}
	}
	return false
}

func filterRemove(instrs []target.Instruction) []target.Instruction {
	out := make([]target.Instruction, 0, len(instrs))
	for _, in := range instrs {
		if in.Strategy == target.StrategyRemove {
			out = append(out, in)
		}
	}
	return out
}

func elementDebugID(el *html.Node) string {
	if v, ok := domupdate.Attr(el, "id"); ok {
		return v
	}
	return el.Data
}
