package binding

import (
	"context"
	"sync/atomic"
	"testing"

	"golang.org/x/net/html"
)

func TestTryRegisterOnlySucceedsOnce(t *testing.T) {
	b := New(&html.Node{})
	if !b.Runtime.TryRegister() {
		t.Fatal("expected first TryRegister to succeed")
	}
	if b.Runtime.TryRegister() {
		t.Error("expected second TryRegister to fail")
	}
	if !b.Runtime.IsRegistered() {
		t.Error("expected IsRegistered true after registration")
	}
}

func TestSetCancelCancelsPrevious(t *testing.T) {
	b := New(&html.Node{})
	var firstCanceled int32
	b.Runtime.SetCancel(func() { atomic.StoreInt32(&firstCanceled, 1) })
	b.Runtime.SetCancel(func() {})

	if atomic.LoadInt32(&firstCanceled) != 1 {
		t.Error("expected issuing a new call to cancel the previous one")
	}
}

func TestCancelPendingClearsState(t *testing.T) {
	b := New(&html.Node{})
	var canceled int32
	b.Runtime.SetCancel(func() { atomic.StoreInt32(&canceled, 1) })
	b.Runtime.CancelPending()
	if atomic.LoadInt32(&canceled) != 1 {
		t.Error("expected CancelPending to invoke the stored cancel func")
	}
	// A second call must be a no-op, not a double-cancel panic.
	b.Runtime.CancelPending()
}

func TestSequentialQueueIsLazyAndStable(t *testing.T) {
	b := New(&html.Node{})
	q1 := b.Runtime.SequentialQueue(0)
	q2 := b.Runtime.SequentialQueue(0)
	if q1 != q2 {
		t.Error("expected the same queue instance across calls")
	}
}

func TestPollLifecycle(t *testing.T) {
	b := New(&html.Node{})
	_, cancel := context.WithCancel(context.Background())

	if !b.Runtime.TrySchedulePoll(cancel) {
		t.Fatal("expected first schedule to succeed")
	}
	if b.Runtime.TrySchedulePoll(cancel) {
		t.Error("expected second schedule to fail while one is active")
	}

	if b.Runtime.RecordPollTick(3) {
		t.Error("tick 1 of 3 should not hit the limit")
	}
	if b.Runtime.RecordPollTick(3) {
		t.Error("tick 2 of 3 should not hit the limit")
	}
	if !b.Runtime.RecordPollTick(3) {
		t.Error("tick 3 of 3 should hit the limit")
	}

	b.Runtime.DisablePoll()
	if !b.Runtime.PollDisabled() {
		t.Error("expected poll to be disabled after DisablePoll")
	}
	if b.Runtime.TrySchedulePoll(cancel) {
		t.Error("expected schedule to refuse once poll-disabled")
	}
}

func TestTimerScheduledSentinel(t *testing.T) {
	b := New(&html.Node{})
	if !b.Runtime.MarkTimerScheduled() {
		t.Fatal("expected first mark to succeed")
	}
	if b.Runtime.MarkTimerScheduled() {
		t.Error("expected second mark to fail")
	}
}

func TestLazyObservedSentinel(t *testing.T) {
	b := New(&html.Node{})
	if !b.Runtime.MarkLazyObserved() {
		t.Fatal("expected first mark to succeed")
	}
	if b.Runtime.MarkLazyObserved() {
		t.Error("expected second mark to fail")
	}
}

func TestResponseStateResetsBetweenCalls(t *testing.T) {
	b := New(&html.Node{})
	b.Runtime.SetStreaming(true)
	b.Runtime.MarkFragmentProcessed()

	b.Runtime.ResetResponseState()

	if b.Runtime.IsStreaming() {
		t.Error("expected streaming flag cleared")
	}
	if b.Runtime.FragmentsProcessed() {
		t.Error("expected fragmentsProcessed flag cleared")
	}
}
