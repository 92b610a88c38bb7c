// Package hooks implements the engine's lifecycle hooks (onbefore,
// onbeforeSwap, onafterSwap, onafter). Go has no dynamic code
// execution, so a hook attribute's string value is not a script to
// interpret but a lookup key into a Registry of Go callables the host
// application registers ahead of time. The key is looked up each time
// the hook runs (Run calls Compiled on every invocation); nothing is
// resolved or cached at binding registration. onerror is not a hook
// here: the fetch engine treats it as a target list for the error swap.
package hooks

import (
	"context"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/logging"
)

// Context is passed to every hook invocation.
type Context struct {
	Element  *html.Node
	Response string // response body text, populated for swap/after hooks
	Err      error  // never set by the fetch engine's hook calls
}

// Func is one hook implementation.
type Func func(ctx context.Context, hc *Context) error

// Registry maps hook-source strings to compiled Go callables.
type Registry struct {
	fns map[string]Func
	log *logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func), log: logging.System()}
}

// Register binds name (the literal attribute string used in markup) to fn.
func (r *Registry) Register(name string, fn Func) {
	r.fns[name] = fn
}

// Compiled resolves name into a guarded callable that recovers a panic
// from the hook. An unregistered name yields a no-op: the engine
// treats an unknown hook source as a misconfiguration, logs it, and
// continues rather than failing the call chain.
func (r *Registry) Compiled(name string) Func {
	if name == "" {
		return nil
	}
	fn, ok := r.fns[name]
	if !ok {
		r.log.Warnf("hook %q is not registered; skipping", name)
		return nil
	}
	return func(ctx context.Context, hc *Context) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Errorf("hook %q panicked: %v", name, rec)
			}
		}()
		return fn(ctx, hc)
	}
}

// Run resolves and immediately invokes name, swallowing and logging
// any error so a failing hook never aborts the surrounding pipeline.
func (r *Registry) Run(ctx context.Context, name string, hc *Context) {
	fn := r.Compiled(name)
	if fn == nil {
		return
	}
	if err := fn(ctx, hc); err != nil {
		r.log.Errorf("hook %q returned error: %v", name, err)
	}
}
