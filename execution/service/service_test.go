package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/engine"
	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/eventstore"
	"github.com/chaingraphlabs/chaingraph/execution/execerr"
	"github.com/chaingraphlabs/chaingraph/execution/flow"
	"github.com/chaingraphlabs/chaingraph/execution/instance"
	"github.com/chaingraphlabs/chaingraph/execution/queue"
	"github.com/chaingraphlabs/chaingraph/execution/service"
	"github.com/chaingraphlabs/chaingraph/execution/store"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	return service.New(service.Options{
		Store:      store.New(store.NewMemoryBackend(), store.Options{}),
		EventStore: eventstore.New(eventstore.NewMemoryBackend(), eventstore.Options{}),
		Queues:     queue.NewRegistry(queue.Options{}),
	})
}

func constFlow(id string) *flow.Flow {
	return &flow.Flow{ID: id, Nodes: []*flow.Node{
		{ID: "n1", Kind: "const", Outputs: map[string]*flow.Port{"out": {Name: "out", Value: 7}}},
	}}
}

func emitFlow(id, eventType string) *flow.Flow {
	return &flow.Flow{ID: id, Nodes: []*flow.Node{
		{ID: "n1", Kind: "emit", Inputs: map[string]*flow.Port{
			"eventType":    {Name: "eventType", Value: eventType},
			"eventPayload": {Name: "eventPayload", Value: map[string]any{"n": 1}},
		}},
	}}
}

func TestStartExecutionSimpleRunCompletes(t *testing.T) {
	// S1: single const node, expect FlowSubscribed/NodeStarted/NodeCompleted/FlowCompleted.
	svc := newTestService(t)
	ctx := context.Background()

	inst, err := svc.CreateExecution(ctx, service.CreateParams{Flow: constFlow("f1")})
	require.NoError(t, err)

	sub, subscribed, err := svc.SubscribeToEvents(ctx, inst.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, event.FlowSubscribed, subscribed.Type)

	require.NoError(t, svc.StartExecution(ctx, inst.ID, nil))

	// StartExecution closes the queue, so the subscription drains and ends.
	var live []event.Type
	for e := range sub.Events() {
		live = append(live, e.Type)
	}
	assert.Equal(t, []event.Type{event.NodeStarted, event.NodeCompleted, event.FlowCompleted}, live)

	got, err := svc.GetExecutionState(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.Completed, got.Status)
}

func TestStartExecutionChildSpawnOnEmit(t *testing.T) {
	// S2: a node emits {type: "ping"}; expect a child spawned and both to
	// eventually complete.
	svc := newTestService(t)
	ctx := context.Background()

	inst, err := svc.CreateExecution(ctx, service.CreateParams{Flow: emitFlow("f1", "ping")})
	require.NoError(t, err)

	require.NoError(t, svc.StartExecution(ctx, inst.ID, nil))

	got, err := svc.GetExecutionState(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.Completed, got.Status)
	require.Len(t, got.ChildExecutionIDs, 1)

	childID := got.ChildExecutionIDs[0]
	require.Eventually(t, func() bool {
		child, err := svc.GetExecutionState(ctx, childID)
		return err == nil && child.Status == instance.Completed
	}, time.Second, time.Millisecond)
}

func TestExternalEventsSpawnOneChildPerEventInOrder(t *testing.T) {
	// S3: container mode never runs its own graph.
	st := store.New(store.NewMemoryBackend(), store.Options{})
	svc := service.New(service.Options{
		Store:      st,
		EventStore: eventstore.New(eventstore.NewMemoryBackend(), eventstore.Options{}),
		Queues:     queue.NewRegistry(queue.Options{}),
	})
	ctx := context.Background()

	inst, err := svc.CreateExecution(ctx, service.CreateParams{Flow: constFlow("container")})
	require.NoError(t, err)

	events := []instance.ExternalEvent{{Type: "A"}, {Type: "B"}, {Type: "A"}, {Type: "A"}, {Type: "C"}, {Type: "B"}}
	require.NoError(t, svc.StartExecution(ctx, inst.ID, events))

	got, err := svc.GetExecutionState(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.Completed, got.Status)
	require.Len(t, got.ChildExecutionIDs, len(events))

	// Children are recorded in spawn order; each carries the event it was
	// spawned for.
	for i, childID := range got.ChildExecutionIDs {
		child, err := st.Get(ctx, childID)
		require.NoError(t, err)
		require.NotNil(t, child.Context)
		require.NotNil(t, child.Context.EventData)
		assert.Equal(t, events[i].Type, child.Context.EventData.EventName)
	}
}

func TestDepthGuardRejectsExcessiveDepth(t *testing.T) {
	// Property 5 / S5: no execution beyond MAX_DEPTH is ever created.
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateExecution(ctx, service.CreateParams{
		Flow:        constFlow("f1"),
		ParentDepth: store.MaxDepth,
	})
	require.Error(t, err)
	assert.True(t, execerr.Is(err, execerr.CycleDetected))
}

func TestSeedIsolationBetweenSiblings(t *testing.T) {
	// Property 8: sibling children spawned from the same parent's
	// initialStateFlow must not observe each other's mutations.
	svc := newTestService(t)
	ctx := context.Background()

	parentFlow := constFlow("parent")
	parent, err := svc.CreateExecution(ctx, service.CreateParams{Flow: parentFlow})
	require.NoError(t, err)

	c1, err := svc.CreateExecution(ctx, service.CreateParams{
		Flow: parent.InitialStateFlow.Clone(), ParentID: parent.ID, ParentDepth: parent.ExecutionDepth,
	})
	require.NoError(t, err)
	c2, err := svc.CreateExecution(ctx, service.CreateParams{
		Flow: parent.InitialStateFlow.Clone(), ParentID: parent.ID, ParentDepth: parent.ExecutionDepth,
	})
	require.NoError(t, err)

	c1.Flow.Nodes[0].Outputs["out"].Value = 999
	assert.Equal(t, 7, c2.Flow.Nodes[0].Outputs["out"].Value)
	assert.NotSame(t, c1.Flow.Nodes[0], c2.Flow.Nodes[0])
}

func TestStopTransitionsToStoppedAndCascades(t *testing.T) {
	// S4 (simplified): stop cascades to children best-effort.
	svc := newTestService(t)
	ctx := context.Background()

	parent, err := svc.CreateExecution(ctx, service.CreateParams{Flow: constFlow("parent")})
	require.NoError(t, err)
	child, err := svc.CreateExecution(ctx, service.CreateParams{
		Flow: constFlow("child"), ParentID: parent.ID, ParentDepth: parent.ExecutionDepth,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Stop(ctx, parent.ID))

	parentState, err := svc.GetExecutionState(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.Stopped, parentState.Status)

	childState, err := svc.GetExecutionState(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.Stopped, childState.Status)
}

func TestStartExecutionBadStateWhenAlreadyRunning(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	inst, err := svc.CreateExecution(ctx, service.CreateParams{Flow: constFlow("f1")})
	require.NoError(t, err)
	require.NoError(t, svc.StartExecution(ctx, inst.ID, nil))

	err = svc.StartExecution(ctx, inst.ID, nil)
	require.Error(t, err)
	assert.True(t, execerr.Is(err, execerr.BadState))
}

func TestAddBreakpointWithoutDebugReturnsNoDebugger(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	inst, err := svc.CreateExecution(ctx, service.CreateParams{Flow: constFlow("f1"), Options: engine.Options{}})
	require.NoError(t, err)

	err = svc.AddBreakpoint(ctx, inst.ID, "n1")
	require.Error(t, err)
	assert.True(t, execerr.Is(err, execerr.NoDebugger))
}

func TestBreakpointPausesAndResumeCompletesRun(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	f := &flow.Flow{ID: "f1", Nodes: []*flow.Node{{ID: "n1", Kind: "const"}, {ID: "n2", Kind: "const"}}}
	inst, err := svc.CreateExecution(ctx, service.CreateParams{
		Flow:    f,
		Options: engine.Options{Debug: true, Breakpoints: []string{"n2"}},
	})
	require.NoError(t, err)

	go func() { _ = svc.StartExecution(ctx, inst.ID, nil) }()

	require.Eventually(t, func() bool {
		s, err := svc.GetExecutionState(ctx, inst.ID)
		return err == nil && s.Status == instance.Paused
	}, time.Second, time.Millisecond)

	require.NoError(t, svc.Resume(ctx, inst.ID))

	require.Eventually(t, func() bool {
		s, err := svc.GetExecutionState(ctx, inst.ID)
		return err == nil && s.Status == instance.Completed
	}, time.Second, time.Millisecond)
}
