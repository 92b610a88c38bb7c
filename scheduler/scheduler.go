// Package scheduler implements the engine's cooperative, single-threaded
// update scheduling: a global immediate queue standing in for
// "the next animation frame" (there is no browser frame clock headless,
// so a fixed-rate ticker drives it), and independent per-binding
// sequential drainers, each an async loop over two FIFOs (calls,
// updates) that exits only when both are empty and is never scheduled
// more than once concurrently — the shape the teacher's ssr.Broker.run
// goroutine uses for its single-owner channel loop.
package scheduler

import (
	"sync"
	"time"
)

// FrameRate is the default tick rate standing in for requestAnimationFrame.
const FrameRate = 60

// Scheduler owns the global immediate-mode FIFO and drives it at a
// fixed rate. One Scheduler is shared by the whole engine.
type Scheduler struct {
	tick    *time.Ticker
	mu      sync.Mutex
	queue   []func()
	done    chan struct{}
	stopped bool
}

// New creates and starts a Scheduler ticking at FrameRate Hz.
func New() *Scheduler {
	s := &Scheduler{
		tick: time.NewTicker(time.Second / FrameRate),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.tick.C:
			s.drainOneFrame()
		}
	}
}

// drainOneFrame runs every function queued before this tick. Functions
// queued during the drain run on the following tick, not this one,
// matching "a worker drains one per frame" read at the batch level (the
// whole frame's worth of immediate-mode work, not just a single entry,
// since multiple independently-triggered bindings may schedule work on
// the same tick).
func (s *Scheduler) drainOneFrame() {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
}

// Immediate schedules fn to run on the next tick.
func (s *Scheduler) Immediate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.queue = append(s.queue, fn)
}

// Stop halts the ticker goroutine. Safe to call once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.tick.Stop()
	close(s.done)
}

// SequentialQueue is the per-binding FIFO pair described in §4.D/§4.L:
// calls are appended as they're issued, and a single async drainer
// awaits each call's completion in order, applies exactly one pending
// DOM update, then waits Delay before proceeding. The drainer exits
// when both FIFOs are empty and is never started twice concurrently.
type SequentialQueue struct {
	Delay time.Duration

	mu       sync.Mutex
	calls    []func() <-chan struct{}
	updates  []func()
	draining bool
}

// NewSequentialQueue builds an empty queue with the given inter-update delay.
func NewSequentialQueue(delay time.Duration) *SequentialQueue {
	return &SequentialQueue{Delay: delay}
}

// Enqueue appends a call (a thunk returning a channel that closes when
// the call's response has arrived) and starts the drainer if it is not
// already running.
func (q *SequentialQueue) Enqueue(call func() <-chan struct{}) {
	q.mu.Lock()
	q.calls = append(q.calls, call)
	alreadyDraining := q.draining
	if !alreadyDraining {
		q.draining = true
	}
	q.mu.Unlock()

	if !alreadyDraining {
		go q.drain()
	}
}

// EnqueueUpdate appends a single pending DOM update to be applied
// after its corresponding call resolves.
func (q *SequentialQueue) EnqueueUpdate(update func()) {
	q.mu.Lock()
	q.updates = append(q.updates, update)
	q.mu.Unlock()
}

func (q *SequentialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.calls) == 0 && len(q.updates) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		var call func() <-chan struct{}
		if len(q.calls) > 0 {
			call = q.calls[0]
			q.calls = q.calls[1:]
		}
		q.mu.Unlock()

		if call != nil {
			<-call()
		}

		q.mu.Lock()
		var update func()
		if len(q.updates) > 0 {
			update = q.updates[0]
			q.updates = q.updates[1:]
		}
		q.mu.Unlock()

		if update != nil {
			update()
		}

		if q.Delay > 0 {
			time.Sleep(q.Delay)
		}
	}
}

// Idle reports whether both FIFOs are currently empty and no drainer
// is running — used by tests and by the dispatcher to know when a
// binding has exited sequential mode.
func (q *SequentialQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && len(q.calls) == 0 && len(q.updates) == 0
}
