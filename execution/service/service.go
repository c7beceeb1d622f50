// Package service implements the Execution Service (C5): the orchestrator
// that creates, starts, stops, and tears down executions, owning the
// parent/child graph, the per-execution Event Queues, and the bridge from
// engine events into the Execution Store and Event Store.
package service

import (
	"context"
	"sync"

	"github.com/chaingraphlabs/chaingraph/execution/engine"
	simpleengine "github.com/chaingraphlabs/chaingraph/execution/engine/simple"
	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/eventstore"
	"github.com/chaingraphlabs/chaingraph/execution/execerr"
	"github.com/chaingraphlabs/chaingraph/execution/flow"
	"github.com/chaingraphlabs/chaingraph/execution/ids"
	"github.com/chaingraphlabs/chaingraph/execution/instance"
	"github.com/chaingraphlabs/chaingraph/execution/queue"
	"github.com/chaingraphlabs/chaingraph/execution/store"
	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

// EngineFactory builds the Engine a newly created execution runs on. The
// default wraps engine/simple; deployments with richer node kinds supply
// their own NodeRuntime-aware factory.
type EngineFactory func(f *flow.Flow, execCtx engine.ExecContext, opts engine.Options, onEvent engine.OnEvent) engine.Engine

// Options configures a Service.
type Options struct {
	Store         *store.Store
	EventStore    *eventstore.Store
	Queues        *queue.Registry
	EngineFactory EngineFactory
	// Runtime is used to build the default EngineFactory when one is not
	// supplied directly; ignored if EngineFactory is set.
	Runtime engine.NodeRuntime
	Clock   flow.Clock
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Service is the Execution Service (C5).
type Service struct {
	store         *store.Store
	eventStore    *eventstore.Store
	queues        *queue.Registry
	engineFactory EngineFactory
	clock         flow.Clock
	log           telemetry.Logger
	metrics       telemetry.Metrics

	mu       sync.Mutex
	children map[string]*childTracker
}

// New constructs a Service. Store, EventStore, and Queues are required.
func New(opts Options) *Service {
	factory := opts.EngineFactory
	if factory == nil {
		factory = func(f *flow.Flow, execCtx engine.ExecContext, eopts engine.Options, onEvent engine.OnEvent) engine.Engine {
			return simpleengine.New(f, execCtx, eopts, onEvent, opts.Runtime)
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = flow.SystemClock{}
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Service{
		store:         opts.Store,
		eventStore:    opts.EventStore,
		queues:        opts.Queues,
		engineFactory: factory,
		clock:         clock,
		log:           log,
		metrics:       metrics,
		children:      make(map[string]*childTracker),
	}
}

func (s *Service) trackerFor(executionID string) *childTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.children[executionID]
	if !ok {
		t = newChildTracker()
		s.children[executionID] = t
	}
	return t
}

// CreateParams are the arguments to CreateExecution.
type CreateParams struct {
	Flow         *flow.Flow
	Options      engine.Options
	Integrations any
	ParentID     string
	EventData    *instance.EventData
	ParentDepth  int
}

// CreateExecution clones the flow twice, computes and guards depth, allocates
// an id, builds the Context and Engine, upserts into the Execution Store as
// Created, and sets up the Event Queue eagerly.
func (s *Service) CreateExecution(ctx context.Context, p CreateParams) (*instance.Instance, error) {
	depth := p.ParentDepth + 1
	if depth > store.MaxDepth {
		return nil, execerr.New(execerr.CycleDetected, "execution depth would exceed MAX_DEPTH")
	}

	working := p.Flow.Clone()
	seed := p.Flow.Clone()
	id := ids.NewExecutionID()
	execCtx := instance.NewContext(ctx, id, working.ID, p.Integrations, p.EventData)

	inst := &instance.Instance{
		ID:                id,
		Flow:              working,
		InitialStateFlow:  seed,
		Context:           execCtx,
		Status:            instance.Created,
		CreatedAt:         s.clock.Now(),
		ParentExecutionID: p.ParentID,
		ExecutionDepth:    depth,
		Options:           p.Options,
		Integrations:      p.Integrations,
	}

	q := s.queues.GetOrCreate(id)
	eng := s.engineFactory(working, execCtx, p.Options, s.makeDispatcher(inst, q))
	eng.SetEventCallback(s.makeEmitHandler(inst))
	inst.Engine = eng

	if err := s.store.Create(ctx, inst); err != nil {
		return nil, err
	}

	if p.ParentID != "" {
		s.trackerFor(p.ParentID).add(id)
		if parent, err := s.store.Get(ctx, p.ParentID); err == nil {
			parent.AddChild(id)
		}
	}
	return inst, nil
}

// StartExecution transitions a Created or Paused execution to Running: a
// container execution with external events spawns one child per event
// instead of running its own graph; otherwise the engine runs the graph
// directly. Either way it then waits for any children to drain before
// returning.
func (s *Service) StartExecution(ctx context.Context, id string, externalEvents []instance.ExternalEvent) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	status := inst.GetStatus()
	if status != instance.Created && status != instance.Paused {
		return execerr.New(execerr.BadState, "cannot start execution in status "+string(status))
	}

	q := s.queues.GetOrCreate(id)

	if len(externalEvents) > 0 {
		inst.ExternalEvents = externalEvents
		inst.SetStatus(instance.Running, s.clock.Now())
		_ = s.store.Create(ctx, inst)

		for _, group := range GroupExternalEvents(externalEvents) {
			for _, ev := range group {
				s.spawnChildForExternalEvent(ctx, inst, ev)
			}
		}
		s.trackerFor(id).wait()
	} else {
		inst.SetStatus(instance.Running, s.clock.Now())
		_ = s.store.Create(ctx, inst)

		inst.Engine.Execute(execCtxContext(inst))
		s.trackerFor(id).wait()
	}

	s.eventStore.FlushAll(ctx)

	if inst.GetStatus() == instance.Running && s.trackerFor(id).count() == 0 {
		s.completeInstance(ctx, inst, q, instance.Completed, "", "")
	}

	q.Close()
	return nil
}

func execCtxContext(inst *instance.Instance) context.Context {
	return inst.Context.Context()
}

// makeDispatcher builds the engine's OnEvent callback: it republishes every
// event into the queue and forwards it to the Event Store, and mirrors
// lifecycle events into the instance's status. Terminal lifecycle events are
// intercepted before publication so a parent with living children can defer
// them instead of completing early.
func (s *Service) makeDispatcher(inst *instance.Instance, q *queue.Queue) engine.OnEvent {
	return func(typ event.Type, data any) {
		switch typ {
		case event.FlowCompleted, event.FlowFailed, event.FlowCancelled:
			s.handleEngineTerminal(inst, q, typ, data)
		default:
			s.publishAndRecord(execCtxContext(inst), inst.ID, q, typ, data)
			switch typ {
			case event.FlowPaused:
				inst.SetStatus(instance.Paused, s.clock.Now())
				_ = s.store.Create(context.Background(), inst)
			case event.FlowResumed:
				inst.SetStatus(instance.Running, s.clock.Now())
				_ = s.store.Create(context.Background(), inst)
			}
		}
	}
}

func (s *Service) handleEngineTerminal(inst *instance.Instance, q *queue.Queue, typ event.Type, data any) {
	if inst.GetStatus().Terminal() {
		return
	}
	status := statusForEventType(typ)
	message, nodeID := decodeFailure(data)

	t := s.trackerFor(inst.ID)
	if t.count() > 0 {
		t.setDeferred(deferredCompletion{status: string(status), message: message, nodeID: nodeID})
		return
	}
	s.completeInstance(context.Background(), inst, q, status, message, nodeID)
}

// completeInstance applies a terminal status transition, persists it,
// publishes the (possibly synthetic) terminal event, and notifies the
// parent, if any.
func (s *Service) completeInstance(ctx context.Context, inst *instance.Instance, q *queue.Queue, status instance.Status, message, nodeID string) {
	if inst.GetStatus().Terminal() {
		return
	}
	if message != "" {
		inst.SetError(message, nodeID)
	}
	inst.SetStatus(status, s.clock.Now())
	_ = s.store.Create(ctx, inst)

	var data any
	if message != "" {
		data = map[string]any{"message": message, "nodeId": nodeID}
	}
	s.publishAndRecord(ctx, inst.ID, q, statusToEventType(status), data)

	if inst.ParentExecutionID != "" {
		s.notifyParent(ctx, inst)
	}
}

// notifyParent publishes ChildExecutionCompleted/Failed into the parent's
// queue and, if this was the last outstanding child, applies the parent's
// deferred completion before waking anything blocked in childTracker.wait.
func (s *Service) notifyParent(ctx context.Context, child *instance.Instance) {
	parentID := child.ParentExecutionID
	pq := s.queues.GetOrCreate(parentID)

	typ := event.ChildExecutionCompleted
	if child.GetStatus() != instance.Completed {
		typ = event.ChildExecutionFailed
	}
	s.publishAndRecord(ctx, parentID, pq, typ, map[string]any{"childExecutionId": child.ID})

	t := s.trackerFor(parentID)
	empty, deferred := t.removeAndTakeDeferred(child.ID)
	if !empty {
		return
	}
	if deferred != nil {
		if parent, err := s.store.Get(ctx, parentID); err == nil {
			s.completeInstance(ctx, parent, pq, instance.Status(deferred.status), deferred.message, deferred.nodeID)
		} else {
			s.log.Warn(ctx, "parent not found applying deferred completion", "parentExecutionId", parentID, "error", err.Error())
		}
	}
	t.releaseWaiters()
}

func (s *Service) publishAndRecord(ctx context.Context, executionID string, q *queue.Queue, typ event.Type, data any) {
	evt := q.Publish(typ, data)
	s.eventStore.AddEvent(ctx, executionID, evt)
}

// makeEmitHandler builds the engine's OnEmit callback: on every call it
// walks the context's unprocessed emitted events and spawns one child per
// event.
func (s *Service) makeEmitHandler(inst *instance.Instance) engine.OnEmit {
	return func() {
		for _, ie := range inst.Context.UnprocessedEmitted() {
			s.spawnChildForEmitted(inst, ie)
		}
	}
}

func (s *Service) spawnChildForEmitted(inst *instance.Instance, ie instance.IndexedEmitted) {
	ctx := context.Background()
	q := s.queues.GetOrCreate(inst.ID)
	eventData := &instance.EventData{EventName: ie.Emitted.Type, Payload: ie.Emitted.Data, EmittedBy: ie.Emitted.EmittedBy}

	child, err := s.CreateExecution(ctx, CreateParams{
		Flow:         inst.InitialStateFlow.Clone(),
		Options:      inst.Options,
		Integrations: inst.Integrations,
		ParentID:     inst.ID,
		EventData:    eventData,
		ParentDepth:  inst.ExecutionDepth,
	})
	if err != nil {
		if execerr.Is(err, execerr.CycleDetected) {
			s.publishAndRecord(ctx, inst.ID, q, event.FlowFailed, map[string]any{"message": err.Error(), "cycleDetected": true})
		} else {
			s.log.Error(ctx, "failed to spawn child execution", "executionId", inst.ID, "error", err.Error())
		}
		inst.Context.MarkProcessed(ie.Index, "")
		return
	}

	inst.Context.MarkProcessed(ie.Index, child.ID)
	s.publishAndRecord(ctx, inst.ID, q, event.ChildExecutionSpawned, map[string]any{"childExecutionId": child.ID, "eventName": eventData.EventName})
	go func() { _ = s.StartExecution(context.Background(), child.ID, nil) }()
}

func (s *Service) spawnChildForExternalEvent(ctx context.Context, inst *instance.Instance, ev instance.ExternalEvent) {
	q := s.queues.GetOrCreate(inst.ID)
	eventData := &instance.EventData{EventName: ev.Type, Payload: ev.Data}

	child, err := s.CreateExecution(ctx, CreateParams{
		Flow:         inst.InitialStateFlow.Clone(),
		Options:      inst.Options,
		Integrations: inst.Integrations,
		ParentID:     inst.ID,
		EventData:    eventData,
		ParentDepth:  inst.ExecutionDepth,
	})
	if err != nil {
		if execerr.Is(err, execerr.CycleDetected) {
			s.publishAndRecord(ctx, inst.ID, q, event.FlowFailed, map[string]any{"message": err.Error(), "cycleDetected": true})
		} else {
			s.log.Error(ctx, "failed to spawn child execution for external event", "executionId", inst.ID, "error", err.Error())
		}
		return
	}

	s.publishAndRecord(ctx, inst.ID, q, event.ChildExecutionSpawned, map[string]any{"childExecutionId": child.ID, "eventName": ev.Type})
	go func() { _ = s.StartExecution(context.Background(), child.ID, nil) }()
}

// Stop cancels the context, transitions to Stopped, then recursively
// (best-effort) stops every child.
func (s *Service) Stop(ctx context.Context, id string) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	status := inst.GetStatus()
	if status != instance.Created && status != instance.Running && status != instance.Paused {
		return execerr.New(execerr.BadState, "cannot stop execution in status "+string(status))
	}

	inst.Context.Cancel()
	q := s.queues.GetOrCreate(id)
	s.completeInstance(ctx, inst, q, instance.Stopped, "", "")

	for _, childID := range inst.Children() {
		if err := s.Stop(ctx, childID); err != nil {
			s.log.Warn(ctx, "failed to stop child execution", "childExecutionId", childID, "error", err.Error())
		}
	}
	return nil
}

// Pause requests that a Running, debug-enabled execution stop before its
// next node boundary.
func (s *Service) Pause(ctx context.Context, id string) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.GetStatus() != instance.Running {
		return execerr.New(execerr.BadState, "cannot pause execution in status "+string(inst.GetStatus()))
	}
	dbg, ok := inst.Engine.GetDebugger()
	if !ok {
		return execerr.New(execerr.NoDebugger, "debug mode not enabled")
	}
	dbg.Pause()
	return nil
}

// Resume releases a Paused execution back to Running. Resuming an execution
// that is already Running is treated as a no-op rather than an error, since
// the debugger's Continue is itself idempotent and a redundant resume call
// is a natural race in a multi-caller debugger UI.
func (s *Service) Resume(ctx context.Context, id string) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	status := inst.GetStatus()
	if status == instance.Running {
		return nil
	}
	if status != instance.Paused {
		return execerr.New(execerr.BadState, "cannot resume execution in status "+string(status))
	}
	dbg, ok := inst.Engine.GetDebugger()
	if !ok {
		return execerr.New(execerr.NoDebugger, "debug mode not enabled")
	}
	dbg.Continue()
	return nil
}

// Step releases a paused execution for exactly one node; it causes no
// status transition.
func (s *Service) Step(ctx context.Context, id string) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	dbg, ok := inst.Engine.GetDebugger()
	if !ok {
		return execerr.New(execerr.NoDebugger, "debug mode not enabled")
	}
	dbg.Step()
	return nil
}

// AddBreakpoint arms a breakpoint on nodeID, validating that the node exists
// in the instance's flow.
func (s *Service) AddBreakpoint(ctx context.Context, id, nodeID string) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Flow.NodeByID(nodeID) == nil {
		return execerr.New(execerr.NotFound, "node "+nodeID+" not found")
	}
	dbg, ok := inst.Engine.GetDebugger()
	if !ok {
		return execerr.New(execerr.NoDebugger, "debug mode not enabled")
	}
	dbg.AddBreakpoint(nodeID)
	return nil
}

// RemoveBreakpoint clears a previously armed breakpoint on nodeID.
func (s *Service) RemoveBreakpoint(ctx context.Context, id, nodeID string) error {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	dbg, ok := inst.Engine.GetDebugger()
	if !ok {
		return execerr.New(execerr.NoDebugger, "debug mode not enabled")
	}
	dbg.RemoveBreakpoint(nodeID)
	return nil
}

// GetBreakpoints returns the node ids currently armed as breakpoints on id's
// debugger.
func (s *Service) GetBreakpoints(ctx context.Context, id string) ([]string, error) {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dbg, ok := inst.Engine.GetDebugger()
	if !ok {
		return nil, execerr.New(execerr.NoDebugger, "debug mode not enabled")
	}
	return dbg.State().Breakpoints, nil
}

// GetExecutionState returns a snapshot of id's current state.
func (s *Service) GetExecutionState(ctx context.Context, id string) (instance.Snapshot, error) {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return instance.Snapshot{}, err
	}
	return inst.Snapshot(), nil
}

// GetChildExecutions returns snapshots of id's children.
func (s *Service) GetChildExecutions(ctx context.Context, id string) ([]instance.Snapshot, error) {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]instance.Snapshot, 0, len(inst.Children()))
	for _, childID := range inst.Children() {
		child, err := s.store.Get(ctx, childID)
		if err != nil {
			s.log.Warn(ctx, "child execution missing from store", "childExecutionId", childID, "error", err.Error())
			continue
		}
		out = append(out, child.Snapshot())
	}
	return out, nil
}

// SubscribeToEvents returns the synthetic FlowSubscribed event the caller
// should yield first, followed by the live Subscription. types is an
// optional filter; empty means all types. Re-subscription after disconnect
// does not replay the Event Store — callers needing history read the Event
// Store directly before subscribing.
func (s *Service) SubscribeToEvents(ctx context.Context, id string, types []event.Type) (*queue.Subscription, event.Event, error) {
	inst, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, event.Event{}, err
	}
	q := s.queues.GetOrCreate(id)
	sub := q.Subscribe(event.Filter{Types: types})
	snapshot := event.Event{ExecutionID: id, Type: event.FlowSubscribed, Timestamp: s.clock.Now(), Data: inst.Flow}
	return sub, snapshot, nil
}

// Dispose tears down the resources held for a finished execution: closes
// the event queue, tears down the completion tracker, and deletes the
// instance from the Execution Store.
func (s *Service) Dispose(ctx context.Context, id string) error {
	if q, ok := s.queues.Get(id); ok {
		q.Close()
	}
	s.queues.Remove(id)
	s.mu.Lock()
	delete(s.children, id)
	s.mu.Unlock()
	return s.store.Delete(ctx, id)
}

func statusForEventType(typ event.Type) instance.Status {
	switch typ {
	case event.FlowCompleted:
		return instance.Completed
	case event.FlowCancelled:
		return instance.Stopped
	default:
		return instance.Failed
	}
}

func statusToEventType(status instance.Status) event.Type {
	switch status {
	case instance.Completed:
		return event.FlowCompleted
	case instance.Stopped:
		return event.FlowCancelled
	default:
		return event.FlowFailed
	}
}

func decodeFailure(data any) (message, nodeID string) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", ""
	}
	if v, ok := m["message"].(string); ok {
		message = v
	}
	if v, ok := m["nodeId"].(string); ok {
		nodeID = v
	}
	return message, nodeID
}
