// Package instance defines ExecutionInstance and ExecutionContext, the unit
// of work the rest of the execution core creates, schedules, and records.
package instance

import (
	"context"
	"sync"
	"time"

	"github.com/chaingraphlabs/chaingraph/execution/engine"
	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/flow"
)

// Status is a point in an ExecutionInstance's lifecycle. Transitions form a
// DAG: Created -> Running -> (Paused <-> Running) -> one of the terminal
// statuses; Paused is reachable only when the engine was built with debug
// enabled.
type Status string

const (
	Created   Status = "Created"
	Running   Status = "Running"
	Paused    Status = "Paused"
	Completed Status = "Completed"
	Failed    Status = "Failed"
	Stopped   Status = "Stopped"
)

// Terminal reports whether s is one of the execution-ending statuses.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Stopped
}

// Error is the human-readable failure recorded on a terminal Instance.
type Error struct {
	Message string
	NodeID  string
}

// EventData is present on a child execution's Context: the emitted event it
// was spawned to handle.
type EventData struct {
	EventName string
	Payload   any
	EmittedBy string
}

// Context is an execution's mutable, per-run scratchpad: cancellation,
// opaque integrations passthrough, optional inbound event data for child
// executions, and the append-only list of events nodes emit during the run.
type Context struct {
	ExecutionID  string
	FlowID       string
	Integrations any
	EventData    *EventData

	cancel context.CancelFunc
	ctx    context.Context

	mu      sync.Mutex
	emitted []event.Emitted
}

// NewContext builds a Context with a fresh cancellation handle derived from
// parent.
func NewContext(parent context.Context, executionID, flowID string, integrations any, eventData *EventData) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		ExecutionID:  executionID,
		FlowID:       flowID,
		Integrations: integrations,
		EventData:    eventData,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Done returns the cancellation channel the engine and I/O-bound nodes
// observe cooperatively.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Context returns the underlying context.Context for passing to collaborators.
func (c *Context) Context() context.Context { return c.ctx }

// Cancel aborts the cancellation handle. Called by Stop.
func (c *Context) Cancel() { c.cancel() }

// AppendEmitted records a node-emitted event on the context. Returns the
// index assigned within Emitted, used by the service to find it again when
// marking it processed.
func (c *Context) AppendEmitted(e event.Emitted) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, e)
	return len(c.emitted) - 1
}

// UnprocessedEmitted returns a snapshot of emitted events not yet processed,
// paired with their index for MarkProcessed.
func (c *Context) UnprocessedEmitted() []IndexedEmitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []IndexedEmitted
	for i, e := range c.emitted {
		if !e.Processed {
			out = append(out, IndexedEmitted{Index: i, Emitted: e})
		}
	}
	return out
}

// MarkProcessed flags the emitted event at idx as processed and records its
// spawned child id, regardless of that child's eventual outcome.
func (c *Context) MarkProcessed(idx int, childExecutionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.emitted) {
		return
	}
	c.emitted[idx].Processed = true
	c.emitted[idx].ChildExecutionID = childExecutionID
}

// IndexedEmitted pairs an Emitted event with its position in Context.emitted.
type IndexedEmitted struct {
	Index   int
	Emitted event.Emitted
}

// Instance is one run of a Flow. It owns its Context, Engine, and both flow
// clones (the mutable working copy and the read-only initial-state seed for
// children); the Execution Store owns the Instance handle itself.
type Instance struct {
	ID               string
	Flow             *flow.Flow
	InitialStateFlow *flow.Flow
	Context          *Context
	Engine           engine.Engine

	mu                 sync.RWMutex
	Status             Status
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	Err                *Error
	ParentExecutionID  string
	ExecutionDepth     int
	ExternalEvents     []ExternalEvent
	ChildExecutionIDs  []string

	// Options and Integrations are retained from creation so children
	// spawned from this instance's emitted events can inherit the same
	// engine configuration and opaque passthrough data as their parent.
	Options      engine.Options
	Integrations any
}

// ExternalEvent is one event supplied at start, used to seed children
// instead of running the parent's own graph.
type ExternalEvent struct {
	Type string
	Data any
}

// SetStatus transitions the instance's status under lock, stamping
// StartedAt/CompletedAt per the invariants: StartedAt is set iff status has
// ever been Running, CompletedAt iff the new status is terminal.
func (i *Instance) SetStatus(s Status, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Status = s
	if s == Running && i.StartedAt == nil {
		t := now
		i.StartedAt = &t
	}
	if s.Terminal() && i.CompletedAt == nil {
		t := now
		i.CompletedAt = &t
	}
}

// GetStatus returns the current status.
func (i *Instance) GetStatus() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Status
}

// SetError records a terminal failure's message and originating node.
func (i *Instance) SetError(message, nodeID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Err = &Error{Message: message, NodeID: nodeID}
}

// AddChild registers childID in this instance's child set.
func (i *Instance) AddChild(childID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ChildExecutionIDs = append(i.ChildExecutionIDs, childID)
}

// Children returns a snapshot of this instance's child ids.
func (i *Instance) Children() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, len(i.ChildExecutionIDs))
	copy(out, i.ChildExecutionIDs)
	return out
}

// Snapshot captures a read-only, lock-free view of the instance's fields
// that change over time, for status queries and durable persistence.
type Snapshot struct {
	ID                string
	Status            Status
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	Err               *Error
	ParentExecutionID string
	ExecutionDepth    int
	ExternalEvents    []ExternalEvent
	ChildExecutionIDs []string
}

// Snapshot returns a consistent copy of i's time-varying fields.
func (i *Instance) Snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	children := make([]string, len(i.ChildExecutionIDs))
	copy(children, i.ChildExecutionIDs)
	return Snapshot{
		ID:                i.ID,
		Status:            i.Status,
		CreatedAt:         i.CreatedAt,
		StartedAt:         i.StartedAt,
		CompletedAt:       i.CompletedAt,
		Err:               i.Err,
		ParentExecutionID: i.ParentExecutionID,
		ExecutionDepth:    i.ExecutionDepth,
		ExternalEvents:    i.ExternalEvents,
		ChildExecutionIDs: children,
	}
}
