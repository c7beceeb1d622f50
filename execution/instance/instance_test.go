package instance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/instance"
)

func TestContextAppendAndMarkProcessed(t *testing.T) {
	c := instance.NewContext(context.Background(), "exec-1", "flow-1", nil, nil)

	idx := c.AppendEmitted(event.Emitted{Type: "ping"})
	assert.Equal(t, 0, idx)

	unprocessed := c.UnprocessedEmitted()
	require.Len(t, unprocessed, 1)
	assert.Equal(t, "ping", unprocessed[0].Emitted.Type)

	c.MarkProcessed(idx, "child-1")
	assert.Empty(t, c.UnprocessedEmitted())
}

func TestContextMarkProcessedOutOfRangeIsNoOp(t *testing.T) {
	c := instance.NewContext(context.Background(), "exec-1", "flow-1", nil, nil)
	c.MarkProcessed(5, "child-1")
	assert.Empty(t, c.UnprocessedEmitted())
}

func TestContextCancelClosesDone(t *testing.T) {
	c := instance.NewContext(context.Background(), "exec-1", "flow-1", nil, nil)
	c.Cancel()
	select {
	case <-c.Done():
	default:
		t.Fatal("expected Done to be closed after Cancel")
	}
}

func TestSetStatusStampsStartedAndCompletedOnce(t *testing.T) {
	inst := &instance.Instance{ID: "exec-1"}
	t0 := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	inst.SetStatus(instance.Running, t0)
	require.NotNil(t, inst.Snapshot().StartedAt)
	assert.Equal(t, t0, *inst.Snapshot().StartedAt)

	t1 := t0.Add(time.Second)
	inst.SetStatus(instance.Completed, t1)
	snap := inst.Snapshot()
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, t1, *snap.CompletedAt)

	// a later terminal transition must not restamp CompletedAt.
	t2 := t1.Add(time.Second)
	inst.SetStatus(instance.Failed, t2)
	assert.Equal(t, t1, *inst.Snapshot().CompletedAt)
}

func TestAddChildAccumulatesAndSnapshotIsACopy(t *testing.T) {
	inst := &instance.Instance{ID: "exec-1"}
	inst.AddChild("c1")
	inst.AddChild("c2")

	children := inst.Children()
	require.Len(t, children, 2)

	children[0] = "mutated"
	assert.Equal(t, []string{"c1", "c2"}, inst.Children(), "Children must return an isolated copy")
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, instance.Completed.Terminal())
	assert.True(t, instance.Failed.Terminal())
	assert.True(t, instance.Stopped.Terminal())
	assert.False(t, instance.Running.Terminal())
	assert.False(t, instance.Paused.Terminal())
	assert.False(t, instance.Created.Terminal())
}
