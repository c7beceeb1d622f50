package simple

import (
	"sync"

	"github.com/chaingraphlabs/chaingraph/execution/engine"
	"github.com/chaingraphlabs/chaingraph/execution/event"
)

// debugger is the engine.Debugger for simple.Engine: it pauses node firing
// at breakpoints or on an explicit Pause call, and resumes on Continue or
// single-steps on Step.
type debugger struct {
	mu          sync.Mutex
	breakpoints map[string]bool
	pauseNow    bool
	paused      bool
	resumeCh    chan struct{}
	stepOnce    bool
}

func newDebugger(breakpoints []string) *debugger {
	d := &debugger{breakpoints: make(map[string]bool), resumeCh: make(chan struct{})}
	for _, id := range breakpoints {
		d.breakpoints[id] = true
	}
	return d
}

// awaitRunnable blocks the engine before firing nodeID if a breakpoint is
// set on it or Pause was called, until Continue or Step releases it, or
// done fires (cancellation). Returns false if cancellation won the race.
func (d *debugger) awaitRunnable(done <-chan struct{}, nodeID string, emit func(event.Type, any)) bool {
	d.mu.Lock()
	shouldPause := d.pauseNow || d.breakpoints[nodeID]
	if !shouldPause {
		d.mu.Unlock()
		return true
	}
	d.paused = true
	d.pauseNow = false
	ch := d.resumeCh
	d.mu.Unlock()

	emit(event.FlowPaused, map[string]any{"nodeId": nodeID})

	select {
	case <-ch:
		d.mu.Lock()
		d.paused = false
		d.mu.Unlock()
		emit(event.FlowResumed, map[string]any{"nodeId": nodeID})
		return true
	case <-done:
		return false
	}
}

// Pause requests that the engine stop before the next node it fires.
func (d *debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauseNow = true
}

// Continue releases a paused engine to resume running. Idempotent when
// already running, matching the source's idempotent debugger.continue.
func (d *debugger) Continue() {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(d.resumeCh)
	d.resumeCh = make(chan struct{})
}

// Step releases a paused engine for exactly one node, then re-pauses it.
// The reference engine implements this as Continue immediately followed by
// a re-armed Pause; because node firing is sequential, the next node boundary
// after the released one is where the re-pause takes effect.
func (d *debugger) Step() {
	d.mu.Lock()
	d.pauseNow = true
	close(d.resumeCh)
	d.resumeCh = make(chan struct{})
	d.mu.Unlock()
}

// AddBreakpoint marks nodeID as a pause point.
func (d *debugger) AddBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[nodeID] = true
}

// RemoveBreakpoint clears nodeID as a pause point.
func (d *debugger) RemoveBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, nodeID)
}

// State returns a snapshot of current breakpoints and pause status.
func (d *debugger) State() engine.DebuggerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.breakpoints))
	for id := range d.breakpoints {
		ids = append(ids, id)
	}
	return engine.DebuggerState{Breakpoints: ids, Paused: d.paused}
}
