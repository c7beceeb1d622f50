// Package simple implements a minimal, in-process reference engine.Engine.
// It fires a Flow's nodes in the order they appear (flow topology
// resolution — arranging nodes into that order — is a graph-editor
// concern out of this core's scope; simple assumes Nodes is already
// topologically ordered) and supports two built-in node kinds sufficient to
// drive the execution core's own tests: "const", which does nothing beyond
// the lifecycle events, and "emit", which appends an Emitted event to the
// execution Context so the Service can spawn a child for it.
package simple

import (
	"context"

	"github.com/chaingraphlabs/chaingraph/execution/engine"
	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/flow"
)

// Engine is the reference engine.Engine implementation.
type Engine struct {
	flow    *flow.Flow
	execCtx engine.ExecContext
	opts    engine.Options
	runtime engine.NodeRuntime

	onEvent engine.OnEvent
	onEmit  engine.OnEmit
	dbg     *debugger
}

// New constructs an Engine over flow, driven by execCtx. onEvent receives
// every lifecycle/per-node event the engine produces. runtime may be nil, in
// which case only the built-in "const"/"emit" node kinds are understood.
func New(f *flow.Flow, execCtx engine.ExecContext, opts engine.Options, onEvent engine.OnEvent, runtime engine.NodeRuntime) *Engine {
	e := &Engine{flow: f, execCtx: execCtx, opts: opts, onEvent: onEvent, runtime: runtime}
	if opts.Debug {
		e.dbg = newDebugger(opts.Breakpoints)
	}
	return e
}

// SetEventCallback installs the hook invoked whenever a node appends an
// emitted event.
func (e *Engine) SetEventCallback(fn engine.OnEmit) { e.onEmit = fn }

// GetDebugger returns the debugger handle, or ok=false if debug mode was not
// enabled at construction.
func (e *Engine) GetDebugger() (engine.Debugger, bool) {
	if e.dbg == nil {
		return nil, false
	}
	return e.dbg, true
}

// GetOptions returns the options this engine was constructed with.
func (e *Engine) GetOptions() engine.Options { return e.opts }

// Execute runs the flow's nodes to completion, cancellation, or a
// breakpoint pause. It never panics out to the caller: a node failure
// surfaces as NodeFailed followed by FlowFailed, and Execute returns.
func (e *Engine) Execute(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.emit(event.FlowFailed, map[string]any{"message": "engine panic", "recovered": r})
		}
	}()

	for _, n := range e.flow.Nodes {
		select {
		case <-e.execCtx.Done():
			e.emit(event.FlowCancelled, nil)
			return
		default:
		}

		if e.dbg != nil {
			if !e.dbg.awaitRunnable(e.execCtx.Done(), n.ID, e.emit) {
				// Cancelled while paused.
				e.emit(event.FlowCancelled, nil)
				return
			}
		}

		e.emit(event.NodeStarted, map[string]any{"nodeId": n.ID})

		if err := e.runNode(ctx, n); err != nil {
			e.emit(event.NodeFailed, map[string]any{"nodeId": n.ID, "message": err.Error()})
			e.emit(event.FlowFailed, map[string]any{"message": err.Error(), "nodeId": n.ID})
			return
		}

		e.emit(event.NodeCompleted, map[string]any{"nodeId": n.ID})

		// onEmit is invoked once the node's own completion event has been
		// published, so a child spawned for an event the node just emitted
		// is announced (ChildExecutionSpawned) after that node's
		// NodeCompleted rather than racing ahead of it.
		if n.Kind == "emit" && e.onEmit != nil {
			e.onEmit()
		}
	}

	e.emit(event.FlowCompleted, nil)
}

func (e *Engine) runNode(ctx context.Context, n *flow.Node) error {
	switch n.Kind {
	case "const":
		return nil
	case "emit":
		emitType, _ := portString(n.Inputs, "eventType")
		payload := portValue(n.Inputs, "eventPayload")
		e.execCtx.AppendEmitted(event.Emitted{Type: emitType, Data: payload, EmittedBy: n.ID})
		return nil
	default:
		if e.runtime == nil {
			return nil
		}
		return e.runtime.RunNode(ctx, n.ID)
	}
}

func (e *Engine) emit(typ event.Type, data any) {
	if e.onEvent != nil {
		e.onEvent(typ, data)
	}
}

func portString(ports map[string]*flow.Port, name string) (string, bool) {
	p, ok := ports[name]
	if !ok {
		return "", false
	}
	s, ok := p.Value.(string)
	return s, ok
}

func portValue(ports map[string]*flow.Port, name string) any {
	p, ok := ports[name]
	if !ok {
		return nil
	}
	return p.Value
}
