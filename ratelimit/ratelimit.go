// Package ratelimit implements the engine's two trigger-wrapping rate
// controls: leading-edge debounce and windowed throttle. Both wrap an
// arbitrary dispatch function so the registration/dispatcher package
// can compose them around a binding's trigger handler.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EventSnapshot is the shallow copy of an event's identity-bearing
// fields taken before a debounced/throttled call fires, so the caller
// can safely reuse or recycle the original event object without the
// delayed invocation reading stale or reused fields.
type EventSnapshot struct {
	Type          string
	Target        interface{}
	CurrentTarget interface{}
}

// Snapshot copies the fields of evt that the spec calls out explicitly
// (type, target, currentTarget). evt may implement any subset of the
// accessor interfaces below; fields it doesn't support are left zero.
func Snapshot(evt interface{}) EventSnapshot {
	var snap EventSnapshot
	if e, ok := evt.(interface{ EventType() string }); ok {
		snap.Type = e.EventType()
	}
	if e, ok := evt.(interface{ EventTarget() interface{} }); ok {
		snap.Target = e.EventTarget()
	}
	if e, ok := evt.(interface{ EventCurrentTarget() interface{} }); ok {
		snap.CurrentTarget = e.EventCurrentTarget()
	}
	return snap
}

// Debounced wraps fn so that the first call in a quiet period fires
// synchronously (leading edge) and any call within wait of the last
// fire is dropped. After wait elapses without a call, the next call
// fires again immediately.
type Debounced struct {
	mu       sync.Mutex
	wait     time.Duration
	lastFire time.Time
	fn       func(evt interface{})
	now      func() time.Time
}

// NewDebounced builds a leading-edge debounced wrapper around fn.
func NewDebounced(fn func(evt interface{}), wait time.Duration) *Debounced {
	return &Debounced{fn: fn, wait: wait, now: time.Now}
}

// Fire is called on every raw trigger event. It fires fn immediately
// if we're outside the debounce window since the last fire, taking a
// defensive snapshot of evt first, and is a no-op otherwise.
func (d *Debounced) Fire(evt interface{}) {
	d.mu.Lock()
	now := d.now()
	if !d.lastFire.IsZero() && now.Sub(d.lastFire) < d.wait {
		d.mu.Unlock()
		return
	}
	d.lastFire = now
	d.mu.Unlock()

	snap := Snapshot(evt)
	d.fn(snap)
}

// Throttled admits one call, then rejects all further calls until
// limit has elapsed since the admitted call.
type Throttled struct {
	limiter *rate.Limiter
	fn      func(evt interface{})
}

// NewThrottled builds a throttled wrapper around fn that admits at
// most one call per limit, with no burst beyond 1 — matching the
// spec's "admits one call, then rejects all until limit elapses"
// rather than a bucket that could admit a burst.
func NewThrottled(fn func(evt interface{}), limit time.Duration) *Throttled {
	return &Throttled{
		limiter: rate.NewLimiter(rate.Every(limit), 1),
		fn:      fn,
	}
}

// Fire admits or rejects the call per the throttle window.
func (t *Throttled) Fire(evt interface{}) {
	if !t.limiter.Allow() {
		return
	}
	t.fn(evt)
}

// Compose wraps inner with debounce (if debounceWait > 0) and then
// throttle (if throttleLimit > 0), matching the dispatcher's "both may
// be composed" rule. Throttle is the outer wrapper, so it sees each
// event first and only the events it admits reach the debounce.
func Compose(inner func(evt interface{}), debounceWait, throttleLimit time.Duration) func(evt interface{}) {
	fn := inner
	if debounceWait > 0 {
		d := NewDebounced(fn, debounceWait)
		fn = d.Fire
	}
	if throttleLimit > 0 {
		th := NewThrottled(fn, throttleLimit)
		fn = th.Fire
	}
	return fn
}
