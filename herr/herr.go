// Package herr defines the error kinds the engine distinguishes between,
// per the failure semantics described for the registration/dispatch
// state machine: transport, HTTP-level, parse, hook, misconfiguration,
// and abort. Call sites wrap underlying errors with fmt.Errorf("...: %w")
// and callers use errors.Is against the sentinels here instead of
// matching on strings.
package herr

import "errors"

// Kind classifies why an operation failed.
type Kind int

const (
	// KindTransport covers timeouts and network failures. Retried up
	// to a binding's retry count; exhausted retries swap the onerror target.
	KindTransport Kind = iota
	// KindHTTPStatus covers non-2xx responses, treated as transport
	// failures for retry purposes.
	KindHTTPStatus
	// KindParse covers malformed fragment markup. Logged and skipped;
	// parsing continues on the remainder of the buffer.
	KindParse
	// KindHook covers a panic or error raised inside a user lifecycle
	// hook or signal subscriber callback.
	KindHook
	// KindMisconfiguration covers a missing selector, unknown strategy,
	// or unrecognized attribute value.
	KindMisconfiguration
	// KindAbort covers cancellation by supersession. Silent; never
	// surfaces through onerror.
	KindAbort
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTPStatus:
		return "http-status"
	case KindParse:
		return "parse"
	case KindHook:
		return "hook"
	case KindMisconfiguration:
		return "misconfiguration"
	case KindAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can
// errors.As/errors.Is against it without string matching.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error of the given kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == k
	}
	return false
}

// ErrAborted is the Abort-kind error for a call superseded by a newer
// call on the same binding. The fetch engine does not return it: a
// superseded Perform simply returns without running onerror.
var ErrAborted = New(KindAbort, "call superseded", nil)
