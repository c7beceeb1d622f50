// Package execerr defines the error taxonomy surfaced by the execution core.
// Errors carry a Kind so callers can branch on failure category without
// string matching, plus an optional NodeID and causal chain so diagnostics
// survive across goroutine and RPC boundaries.
package execerr

import "errors"

// Kind enumerates the error categories the execution core can surface.
type Kind string

const (
	// NotFound indicates an unknown executionId or nodeId.
	NotFound Kind = "not_found"
	// BadState indicates the operation is illegal in the current status.
	BadState Kind = "bad_state"
	// NoDebugger indicates a debug operation was attempted on a non-debug execution.
	NoDebugger Kind = "no_debugger"
	// CycleDetected indicates child creation would exceed MAX_DEPTH.
	CycleDetected Kind = "cycle_detected"
	// StoreUnavailable indicates a durable store write failed.
	StoreUnavailable Kind = "store_unavailable"
	// Internal is the catch-all for anything else, including recovered panics.
	Internal Kind = "internal"
)

// Error is a structured failure carrying a Kind, a human-readable Message,
// and optional NodeID/Cause for diagnostics. It implements error and Unwrap
// so errors.Is/As continue to work across the chain.
type Error struct {
	Kind    Kind
	Message string
	NodeID  string
	Cause   error
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a causal wrap. Use when an
// underlying error (store failure, engine panic) should remain inspectable.
func Newf(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithNodeID returns a copy of e with NodeID set, for errors that originate
// at a specific node boundary.
func (e *Error) WithNodeID(nodeID string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.NodeID = nodeID
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is/As traversal.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and Internal
// otherwise. Use this at API boundaries to map errors to transport-level
// status codes without a type switch at every call site.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
