// Package engine defines the per-execution scheduler contract (C4). The
// execution core treats the engine as an external collaborator: this
// package only specifies the interface a scheduler implementation must
// satisfy (see engine/simple for a reference implementation); the actual
// node business logic it drives is opaque, reached only through NodeRuntime.
package engine

import (
	"context"
	"time"

	"github.com/chaingraphlabs/chaingraph/execution/event"
)

// ExecContext is the minimal view of an execution's Context an Engine needs:
// cancellation observation and the ability to record in-flow emitted
// events. instance.Context satisfies this structurally; this package does
// not import instance.
type ExecContext interface {
	// Done reports cancellation, as installed by Stop.
	Done() <-chan struct{}
	// Context returns a context.Context for collaborators that need one
	// (NodeRuntime calls, per-node timeouts).
	Context() context.Context
	// AppendEmitted records a node-emitted event and returns its index.
	AppendEmitted(e event.Emitted) int
}

// NodeRuntime is the engine's node execution callback. Its per-node business
// logic (LLM calls, HTTP, templating, etc.) is opaque to the execution core;
// the engine invokes it once per fired node.
type NodeRuntime interface {
	RunNode(ctx context.Context, nodeID string) error
}

// OnEvent is invoked by the engine for every lifecycle and per-node event it
// produces while executing (FlowSubscribed is synthesized by the service,
// not the engine). The Service's setupEventHandling subscribes through this.
type OnEvent func(typ event.Type, data any)

// OnEmit is invoked whenever a node appends to the context's emitted-events
// list. The Service uses this hook to discover new events to spawn children
// for, without polling.
type OnEmit func()

// Options are the parameters an Engine was constructed with.
type Options struct {
	MaxConcurrency int
	NodeTimeout    time.Duration
	FlowTimeout    time.Duration
	Debug          bool
	Breakpoints    []string
}

// Engine is a per-execution scheduler: topological firing of nodes, debugger
// hooks, and the event-emission callback the Service uses to spawn children.
// Engine failures never escape Execute; they surface as a FlowFailed event
// through OnEvent.
type Engine interface {
	// Execute runs until the graph reaches a terminal state, cancellation
	// is observed via ExecContext.Done, or a breakpoint pauses it.
	Execute(ctx context.Context)
	// SetEventCallback installs the hook invoked whenever emitted events
	// change. Must be called before Execute.
	SetEventCallback(fn OnEmit)
	// GetDebugger returns a debugger handle when debug mode is enabled; ok
	// is false otherwise (the "no debugger" sentinel, surfaced as
	// NoDebugger to callers of pause/step/breakpoint operations).
	GetDebugger() (dbg Debugger, ok bool)
	// GetOptions returns the options the engine was constructed with.
	GetOptions() Options
}

// Debugger controls a paused or pausable Engine.
type Debugger interface {
	Pause()
	Continue()
	Step()
	AddBreakpoint(nodeID string)
	RemoveBreakpoint(nodeID string)
	State() DebuggerState
}

// DebuggerState is a snapshot of a Debugger's current breakpoints and pause
// state.
type DebuggerState struct {
	Breakpoints []string
	Paused      bool
}
