package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/queue"
)

func TestPublishFanOutOrdering(t *testing.T) {
	q := queue.New("EX1", queue.Options{})
	sub := q.Subscribe(event.Filter{})

	q.Publish(event.NodeStarted, nil)
	q.Publish(event.NodeCompleted, nil)
	q.Publish(event.FlowCompleted, nil)

	var got []event.Type
	for i := 0; i < 3; i++ {
		got = append(got, (<-sub.Events()).Type)
	}
	assert.Equal(t, []event.Type{event.NodeStarted, event.NodeCompleted, event.FlowCompleted}, got)
}

func TestSubscribeDoesNotReplayHistory(t *testing.T) {
	q := queue.New("EX1", queue.Options{})
	q.Publish(event.NodeStarted, nil)

	sub := q.Subscribe(event.Filter{})
	q.Publish(event.NodeCompleted, nil)

	got := <-sub.Events()
	assert.Equal(t, event.NodeCompleted, got.Type, "late subscriber must not see events published before it subscribed")
}

func TestFilterRestrictsDelivery(t *testing.T) {
	q := queue.New("EX1", queue.Options{})
	sub := q.Subscribe(event.Filter{Types: []event.Type{event.NodeFailed}})

	q.Publish(event.NodeStarted, nil)
	q.Publish(event.NodeFailed, "boom")

	got := <-sub.Events()
	assert.Equal(t, event.NodeFailed, got.Type)

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected extra event delivered: %+v", extra)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestCloseSignalsEndOfStream(t *testing.T) {
	q := queue.New("EX1", queue.Options{})
	sub := q.Subscribe(event.Filter{})

	closed := false
	q.OnClose(func() { closed = true })

	q.Publish(event.NodeStarted, nil)
	q.Close()

	// Buffered event still drains before the channel reports closed.
	first := <-sub.Events()
	assert.Equal(t, event.NodeStarted, first.Type)

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel must be closed after draining")
	assert.True(t, closed, "onClose callback must fire")
}

func TestCloseIsIdempotent(t *testing.T) {
	q := queue.New("EX1", queue.Options{})
	calls := 0
	q.OnClose(func() { calls++ })
	q.Close()
	q.Close()
	assert.Equal(t, 1, calls)
}

func TestTerminalEventsNeverDropped(t *testing.T) {
	q := queue.New("EX1", queue.Options{Capacity: 2})
	sub := q.Subscribe(event.Filter{})

	// Fill the buffer past capacity with non-terminal events, then a terminal one.
	q.Publish(event.NodeStarted, nil)
	q.Publish(event.NodeStarted, nil)
	q.Publish(event.NodeStarted, nil)
	q.Publish(event.FlowCompleted, nil)

	var last event.Type
	for {
		select {
		case e := <-sub.Events():
			last = e.Type
		case <-time.After(10 * time.Millisecond):
			assert.Equal(t, event.FlowCompleted, last, "terminal event must survive backpressure")
			return
		}
	}
}

func TestRegistryGetOrCreateIsSingleton(t *testing.T) {
	r := queue.NewRegistry(queue.Options{})
	a := r.GetOrCreate("EX1")
	b := r.GetOrCreate("EX1")
	require.Same(t, a, b)

	r.Remove("EX1")
	_, ok := r.Get("EX1")
	assert.False(t, ok)
}
