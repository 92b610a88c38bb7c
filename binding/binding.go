// Package binding defines the engine's per-element state record
// (spec §3): the attributes parsed off one bound element plus the
// mutable runtime state the dispatcher and fetch engine thread through
// a call's lifecycle. One Binding is created per element, keyed by
// node identity, and never duplicated on re-scan.
package binding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/scheduler"
	"github.com/monstercameron/htmlex-go/target"
)

// AutoMode names the auto attribute's recognized values.
type AutoMode int

const (
	AutoNone AutoMode = iota
	AutoDelay
	AutoLazy
	AutoPrefetch
)

// Method is an HTTP method name, or MethodNone when the element carries
// no GET/POST/PUT/DELETE/PATCH attribute (publish-only or timer-only).
type Method string

const (
	MethodNone   Method = ""
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// History names the push/replace choice for URL-state mutation.
type History int

const (
	HistoryReplace History = iota
	HistoryPush
)

// Binding is one element's parsed attributes plus its live runtime
// state. Exported fields are set once at registration; the fields
// under Runtime mutate across the element's lifetime and are guarded
// by Runtime's own mutex.
type Binding struct {
	Element *html.Node

	Trigger string
	Method  Method
	Endpoint string

	Target  []target.Instruction
	Source  []string
	Extras  map[string]string
	Loading []target.Instruction
	OnError []target.Instruction

	Debounce time.Duration
	Throttle time.Duration

	Timeout time.Duration
	Retry   int

	CacheTTL time.Duration

	AutoMode  AutoMode
	AutoDelay time.Duration

	PollInterval time.Duration
	PollRepeat   int
	PollExpr     string

	Sequential      bool
	SequentialDelay time.Duration

	Publish   string
	Subscribe []string

	TimerDelay time.Duration
	HasTimer   bool

	SocketURL string

	OnBefore      string
	OnBeforeSwap  string
	OnAfterSwap   string
	OnAfter       string

	URLPush    map[string]string
	URLPull    []string
	URLPath    string
	URLHistory History
	HasURLState bool

	Debug bool

	Runtime Runtime
}

// Runtime is the mutable state a binding accumulates once it starts
// firing calls. Every field is guarded by mu.
type Runtime struct {
	mu sync.Mutex

	registered bool // registration sentinel; set once, never twice

	cancel context.CancelFunc // aborts the current non-sequential in-flight call

	pollCancel context.CancelFunc
	pollTicks  int
	pollDisabled bool

	sequentialQueue *scheduler.SequentialQueue

	streamingActive    bool
	defaultUpdated     bool
	fragmentsProcessed bool

	timerScheduled bool
	lazyObserved   bool
}

// TryRegister marks the binding registered and reports whether this
// call was the one that did it; a second call on the same binding
// always returns false. This backs the "at most once per element"
// invariant.
func (r *Runtime) TryRegister() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return false
	}
	r.registered = true
	return true
}

// IsRegistered reports whether TryRegister has already succeeded.
func (r *Runtime) IsRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// SetCancel stores the cancellation func for the current non-sequential
// in-flight call, canceling whatever was previously stored first —
// this is the "issuing a new call cancels the previous" invariant.
func (r *Runtime) SetCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.cancel
	r.cancel = cancel
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// CancelPending cancels and clears any in-flight non-sequential call.
func (r *Runtime) CancelPending() {
	r.mu.Lock()
	prev := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// SequentialQueue lazily constructs and returns this binding's
// per-binding sequential FIFO pair.
func (r *Runtime) SequentialQueue(delay time.Duration) *scheduler.SequentialQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sequentialQueue == nil {
		r.sequentialQueue = scheduler.NewSequentialQueue(delay)
	}
	return r.sequentialQueue
}

// SetStreaming flips the streaming-active flag, set once chunk count
// for the current response exceeds one.
func (r *Runtime) SetStreaming(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamingActive = v
}

// IsStreaming reports the current streaming-active flag.
func (r *Runtime) IsStreaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamingActive
}

// MarkFragmentProcessed records that at least one fragment update was
// applied for the current response.
func (r *Runtime) MarkFragmentProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragmentsProcessed = true
}

// ResetResponseState clears the per-response flags ahead of a new call.
func (r *Runtime) ResetResponseState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamingActive = false
	r.defaultUpdated = false
	r.fragmentsProcessed = false
}

// FragmentsProcessed reports whether the current response produced any
// fragment updates.
func (r *Runtime) FragmentsProcessed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fragmentsProcessed
}

// TrySchedulePoll atomically checks that the binding is neither
// poll-disabled nor already polling and, if so, stores cancel and
// reports true; a poll worker that loses the race must shut itself
// down immediately.
func (r *Runtime) TrySchedulePoll(cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pollDisabled || r.pollCancel != nil {
		return false
	}
	r.pollCancel = cancel
	return true
}

// RecordPollTick increments the poll tick counter and reports whether
// the configured repeat limit (0 = unlimited) has now been reached.
func (r *Runtime) RecordPollTick(repeatLimit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollTicks++
	return repeatLimit > 0 && r.pollTicks >= repeatLimit
}

// DisablePoll tears down the poll worker and marks the binding
// poll-disabled permanently.
func (r *Runtime) DisablePoll() {
	r.mu.Lock()
	cancel := r.pollCancel
	r.pollCancel = nil
	r.pollDisabled = true
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PollDisabled reports whether the poll has already been torn down.
func (r *Runtime) PollDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollDisabled
}

// MarkTimerScheduled reports true only the first time it is called for
// this binding, backing the "timer scheduled at most once" sentinel.
func (r *Runtime) MarkTimerScheduled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timerScheduled {
		return false
	}
	r.timerScheduled = true
	return true
}

// MarkLazyObserved reports true only the first time it is called,
// backing "auto=lazy fires exactly once on first intersection".
func (r *Runtime) MarkLazyObserved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lazyObserved {
		return false
	}
	r.lazyObserved = true
	return true
}

// New creates a Binding for el with zeroed attribute fields; callers
// populate attributes via the registry's parse step.
func New(el *html.Node) *Binding {
	return &Binding{
		Element: el,
		Extras:  make(map[string]string),
	}
}
