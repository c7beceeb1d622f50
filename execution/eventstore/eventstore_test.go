package eventstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/eventstore"
)

func TestAddEventFlushesOnBatchSize(t *testing.T) {
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, eventstore.Options{BatchSize: 2, BatchTimeout: time.Hour})
	ctx := context.Background()

	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0, Type: event.NodeStarted})
	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 1, Type: event.NodeCompleted})

	page, err := store.GetEvents(ctx, "EX1", -1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
}

func TestAddEventFlushesOnTimeout(t *testing.T) {
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, eventstore.Options{BatchSize: 50, BatchTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0, Type: event.NodeStarted})

	require.Eventually(t, func() bool {
		page, err := store.GetEvents(ctx, "EX1", -1, 10)
		return err == nil && len(page.Events) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestFlushAllDrainsEveryExecution(t *testing.T) {
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, eventstore.Options{BatchSize: 50, BatchTimeout: time.Hour})
	ctx := context.Background()

	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0})
	store.AddEvent(ctx, "EX2", event.Event{ExecutionID: "EX2", Index: 0})

	store.FlushAll(ctx)

	p1, _ := store.GetEvents(ctx, "EX1", -1, 10)
	p2, _ := store.GetEvents(ctx, "EX2", -1, 10)
	assert.Len(t, p1.Events, 1)
	assert.Len(t, p2.Events, 1)
}

func TestAddEventIdempotentOnDuplicateIndex(t *testing.T) {
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, eventstore.Options{BatchSize: 1, BatchTimeout: time.Hour})
	ctx := context.Background()

	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0, Type: event.NodeStarted})
	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0, Type: event.NodeFailed})

	page, err := store.GetEvents(ctx, "EX1", -1, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, event.NodeStarted, page.Events[0].Type, "first write for an index wins")
}

func TestThousandEventsDurableAfterFlush(t *testing.T) {
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, eventstore.Options{BatchSize: 50, BatchTimeout: time.Hour})
	ctx := context.Background()

	for i := int64(0); i < 1000; i++ {
		store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: i, Type: event.NodeCompleted})
	}
	store.FlushAll(ctx)

	page, err := store.GetEvents(ctx, "EX1", -1, 2000)
	require.NoError(t, err)
	require.Len(t, page.Events, 1000)
	for i, e := range page.Events {
		assert.Equal(t, int64(i), e.Index)
	}
}

func TestDeleteEventsRemovesAll(t *testing.T) {
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, eventstore.Options{BatchSize: 1, BatchTimeout: time.Hour})
	ctx := context.Background()

	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0})
	require.NoError(t, store.DeleteEvents(ctx, "EX1"))

	page, err := store.GetEvents(ctx, "EX1", -1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

// failingBackend fails its first WriteBatch call, then succeeds, to exercise
// the re-prepend-on-failure path.
type failingBackend struct {
	mu       sync.Mutex
	failed   bool
	delegate *eventstore.MemoryBackend
}

func (f *failingBackend) WriteBatch(ctx context.Context, executionID string, batch []event.Event) error {
	f.mu.Lock()
	if !f.failed {
		f.failed = true
		f.mu.Unlock()
		return errors.New("write failed")
	}
	f.mu.Unlock()
	return f.delegate.WriteBatch(ctx, executionID, batch)
}

func (f *failingBackend) List(ctx context.Context, executionID string, fromIndex int64, limit int) (eventstore.Page, error) {
	return f.delegate.List(ctx, executionID, fromIndex, limit)
}

func (f *failingBackend) Delete(ctx context.Context, executionID string) error {
	return f.delegate.Delete(ctx, executionID)
}

func TestFailedFlushRePrependsForRetry(t *testing.T) {
	backend := &failingBackend{delegate: eventstore.NewMemoryBackend()}
	store := eventstore.New(backend, eventstore.Options{BatchSize: 1, BatchTimeout: time.Hour})
	ctx := context.Background()

	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 0, Type: event.NodeStarted})

	// The first flush failed; nothing durable yet.
	page, _ := store.GetEvents(ctx, "EX1", -1, 10)
	assert.Empty(t, page.Events)

	// A second append triggers another flush attempt, which now succeeds and
	// carries the re-prepended event along with it.
	store.AddEvent(ctx, "EX1", event.Event{ExecutionID: "EX1", Index: 1, Type: event.NodeCompleted})

	require.Eventually(t, func() bool {
		page, err := store.GetEvents(ctx, "EX1", -1, 10)
		return err == nil && len(page.Events) == 2
	}, 200*time.Millisecond, 5*time.Millisecond)
}
