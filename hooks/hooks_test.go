package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestRunInvokesRegisteredHook(t *testing.T) {
	r := NewRegistry()
	var called bool
	r.Register("markLoaded", func(ctx context.Context, hc *Context) error {
		called = true
		return nil
	})

	r.Run(context.Background(), "markLoaded", &Context{})
	if !called {
		t.Error("expected registered hook to run")
	}
}

func TestRunOnUnregisteredNameIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Run(context.Background(), "doesNotExist", &Context{}) // must not panic
}

func TestRunOnEmptyNameIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Run(context.Background(), "", &Context{}) // must not panic
}

func TestPanickingHookIsContained(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", func(ctx context.Context, hc *Context) error {
		panic("kaboom")
	})
	r.Run(context.Background(), "boom", &Context{}) // must not panic out
}

func TestErrorReturningHookIsLoggedNotPropagated(t *testing.T) {
	r := NewRegistry()
	r.Register("fails", func(ctx context.Context, hc *Context) error {
		return errors.New("boom")
	})
	r.Run(context.Background(), "fails", &Context{}) // must not panic or block
}
