package jobs

import "testing"

func TestNewRuntimeNoopWithoutRedisURL(t *testing.T) {
	rt, err := NewRuntime("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Client != nil || rt.Server != nil {
		t.Error("expected a no-op runtime with nil client/server")
	}
	if rt.Mux == nil {
		t.Error("expected a usable mux even without redis")
	}
}

func TestNoopRuntimeEnqueueSucceeds(t *testing.T) {
	rt, err := NewRuntime("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rt.Enqueue("htmlex:poll:x", nil); err != nil {
		t.Errorf("expected no-op enqueue to succeed, got %v", err)
	}
}

func TestNoopRuntimeStartAndStopAreSafe(t *testing.T) {
	rt, err := NewRuntime("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Errorf("expected no-op Start to succeed, got %v", err)
	}
	if err := rt.Stop(); err != nil {
		t.Errorf("expected no-op Stop to succeed, got %v", err)
	}
}

func TestNewRuntimeRejectsInvalidRedisURL(t *testing.T) {
	_, err := NewRuntime("not-a-valid-url")
	if err == nil {
		t.Error("expected an error for a malformed redis URL")
	}
}
