// Package eventstore implements the batched, best-effort durable event log
// for executions (C2). Events are buffered per execution and flushed to a
// pluggable Backend when a batch reaches BatchSize or BatchTimeout elapses
// since the last append, whichever comes first. Writes are idempotent on
// (executionId, eventIndex): a Backend must ignore conflicting inserts for a
// key it has already seen.
package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/execerr"
	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

// DefaultBatchSize is the number of events that triggers an eager flush.
const DefaultBatchSize = 50

// DefaultBatchTimeout is the max time a batch waits for more events before
// flushing.
const DefaultBatchTimeout = 100 * time.Millisecond

// Page is a forward page of execution events, ordered by ascending index.
type Page struct {
	Events     []event.Event
	NextCursor int64
	HasMore    bool
}

// Backend is the durable seam a Store flushes batches to. Implementations
// (see eventstore/mongostore) must be idempotent on (executionID, index).
type Backend interface {
	WriteBatch(ctx context.Context, executionID string, batch []event.Event) error
	List(ctx context.Context, executionID string, fromIndex int64, limit int) (Page, error)
	Delete(ctx context.Context, executionID string) error
}

// Options configures a Store.
type Options struct {
	BatchSize    int
	BatchTimeout time.Duration
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
}

type execBatch struct {
	mu       sync.Mutex
	pending  []event.Event
	timer    *time.Timer
	flushing bool
}

// Store is the batched event store for all executions known to one process.
type Store struct {
	backend Backend
	size    int
	timeout time.Duration
	log     telemetry.Logger
	metrics telemetry.Metrics

	mu      sync.Mutex
	batches map[string]*execBatch
}

// New constructs a Store flushing to backend.
func New(backend Backend, opts Options) *Store {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	timeout := opts.BatchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Store{
		backend: backend,
		size:    size,
		timeout: timeout,
		log:     log,
		metrics: metrics,
		batches: make(map[string]*execBatch),
	}
}

// AddEvent enqueues e into executionID's pending batch, flushing eagerly if
// the batch has reached BatchSize. AddEvent never blocks on the durable
// write; the timeout-triggered flush happens on its own timer goroutine.
func (s *Store) AddEvent(ctx context.Context, executionID string, e event.Event) {
	b := s.batchFor(executionID)

	b.mu.Lock()
	b.pending = append(b.pending, e)
	full := len(b.pending) >= s.size
	if b.timer == nil {
		b.timer = time.AfterFunc(s.timeout, func() { s.flush(context.Background(), executionID, b) })
	}
	b.mu.Unlock()

	if full {
		s.flush(ctx, executionID, b)
	}
}

func (s *Store) batchFor(executionID string) *execBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[executionID]
	if !ok {
		b = &execBatch{}
		s.batches[executionID] = b
	}
	return b
}

// flush drains b's pending events and writes them to the backend. Only one
// flush per execution is in flight at a time; a concurrent caller finding a
// flush already running returns at once, and the in-flight flush re-arms the
// batch timer for anything appended meanwhile.
func (s *Store) flush(ctx context.Context, executionID string, b *execBatch) {
	b.mu.Lock()
	if b.flushing || len(b.pending) == 0 {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
		return
	}
	b.flushing = true
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	err := s.backend.WriteBatch(ctx, executionID, batch)

	b.mu.Lock()
	b.flushing = false
	if err != nil {
		// Re-prepend the failed batch ahead of anything appended during the
		// write attempt so ordering is preserved, and surface the error; the
		// execution itself is not rolled back.
		b.pending = append(batch, b.pending...)
	}
	// Anything still pending (a failed batch, or events appended during the
	// write whose timer a concurrent caller stopped) gets a fresh timer.
	if b.timer == nil && len(b.pending) > 0 {
		b.timer = time.AfterFunc(s.timeout, func() { s.flush(context.Background(), executionID, b) })
	}
	b.mu.Unlock()

	if err != nil {
		s.log.Error(ctx, "event store flush failed", "executionId", executionID, "error", err.Error())
		s.metrics.IncCounter("eventstore.flush_error", 1, "executionId", executionID)
		return
	}
	s.metrics.RecordGauge("eventstore.batch_size", float64(len(batch)), "executionId", executionID)
}

// FlushAll drains every execution's pending batch in parallel.
func (s *Store) FlushAll(ctx context.Context) {
	s.mu.Lock()
	batches := make(map[string]*execBatch, len(s.batches))
	for id, b := range s.batches {
		batches[id] = b
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for id, b := range batches {
		wg.Add(1)
		go func(id string, b *execBatch) {
			defer wg.Done()
			s.flush(ctx, id, b)
		}(id, b)
	}
	wg.Wait()
}

// GetEvents returns events for executionID ordered by ascending index,
// starting after fromIndex, up to limit.
func (s *Store) GetEvents(ctx context.Context, executionID string, fromIndex int64, limit int) (Page, error) {
	page, err := s.backend.List(ctx, executionID, fromIndex, limit)
	if err != nil {
		return Page{}, execerr.Newf(execerr.StoreUnavailable, err, "failed to list events for "+executionID)
	}
	return page, nil
}

// DeleteEvents removes all persisted and pending events for executionID.
func (s *Store) DeleteEvents(ctx context.Context, executionID string) error {
	s.mu.Lock()
	delete(s.batches, executionID)
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, executionID); err != nil {
		return execerr.Newf(execerr.StoreUnavailable, err, "failed to delete events for "+executionID)
	}
	return nil
}
