// Package queue implements the bounded, ordered, multi-subscriber event
// fan-out for a single execution (C1). Each subscriber gets its own buffered
// channel fed in publish order; a full subscriber buffer never blocks the
// publisher. When a subscriber's buffer is full, an incoming non-terminal
// event is dropped for that subscriber (drop-newest-non-terminal); buffered
// events are left in place. An incoming terminal lifecycle event
// (FlowCompleted/Failed/Cancelled) is always delivered, by first discarding
// the oldest buffered event, whatever its type.
package queue

import (
	"sync"
	"time"

	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

// Clock abstracts wall-clock time so published events can be stamped
// deterministically in tests. Any flow.Clock satisfies this structurally.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DefaultCapacity is the general-purpose per-subscriber buffer size.
const DefaultCapacity = 200

// ChildCapacity is the buffer size used for child-producing executions,
// which tend to emit more frequently relative to how fast callers drain them.
const ChildCapacity = 100

// Subscription is a live handle returned by Queue.Subscribe. Events reads
// yield every event published from the moment the subscription was created
// onward, with no gaps relative to later events; it never replays history.
type Subscription struct {
	events <-chan event.Event
	unsub  func()
}

// Events returns the channel of events for this subscription. The channel
// is closed once the queue is closed and all buffered events drained.
func (s *Subscription) Events() <-chan event.Event { return s.events }

// Close stops delivery to this subscription and releases its buffer.
func (s *Subscription) Close() { s.unsub() }

type subscriber struct {
	ch     chan event.Event
	filter event.Filter
}

// Queue is a bounded, ordered, multi-subscriber event stream for one
// execution. The zero value is not usable; construct with New.
type Queue struct {
	executionID string
	capacity    int
	clock       Clock
	metrics     telemetry.Metrics

	mu          sync.Mutex
	nextIndex   int64
	subscribers map[int64]*subscriber
	nextSubID   int64
	closed      bool
	onCloseFns  []func()
	closeOnce   sync.Once
}

// Options configures a Queue.
type Options struct {
	// Capacity is the per-subscriber buffer size. Defaults to DefaultCapacity.
	Capacity int
	// Clock stamps published events. Defaults to the real wall clock.
	Clock Clock
	// Metrics records queue depth/drop counters. Defaults to a no-op.
	Metrics telemetry.Metrics
}

// New constructs a Queue for the given execution id.
func New(executionID string, opts Options) *Queue {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Queue{
		executionID: executionID,
		capacity:    capacity,
		clock:       clock,
		metrics:     metrics,
		subscribers: make(map[int64]*subscriber),
	}
}

// Publish appends event data to the queue under the next monotonic index
// and fans it out to every current subscriber. It never blocks on a slow
// subscriber: if that subscriber's buffer is full, a non-terminal event is
// not delivered to it, and a terminal event is delivered after discarding
// the oldest buffered event.
func (q *Queue) Publish(typ event.Type, data any) event.Event {
	q.mu.Lock()
	idx := q.nextIndex
	q.nextIndex++
	evt := event.Event{ExecutionID: q.executionID, Index: idx, Type: typ, Timestamp: q.clock.Now(), Data: data}
	if q.closed {
		q.mu.Unlock()
		return evt
	}
	subs := make([]*subscriber, 0, len(q.subscribers))
	for _, s := range q.subscribers {
		subs = append(subs, s)
	}
	q.mu.Unlock()

	for _, s := range subs {
		if !s.filter.Matches(evt) {
			continue
		}
		q.deliver(s, evt)
	}
	q.metrics.IncCounter("queue.published", 1, "executionId", q.executionID)
	return evt
}

// deliver sends evt to s. If s's channel is full, a non-terminal evt is
// dropped; a terminal evt makes room by dropping the oldest buffered event.
func (q *Queue) deliver(s *subscriber, evt event.Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}
	if !event.IsTerminal(evt.Type) {
		// Buffer full and this event is droppable: drop it rather than the
		// oldest buffered one, to avoid reordering relative to what the
		// subscriber has already started draining.
		q.metrics.IncCounter("queue.dropped", 1, "executionId", q.executionID)
		return
	}
	// Terminal events must get through: make room by discarding the oldest
	// buffered event, then deliver.
	select {
	case <-s.ch:
		q.metrics.IncCounter("queue.dropped", 1, "executionId", q.executionID)
	default:
	}
	select {
	case s.ch <- evt:
	default:
		// Still full (a racing receiver refilled it); spin once more.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- evt
	}
}

// Subscribe returns a new Subscription observing every event published from
// this call onward. filter restricts delivered types; a zero-value Filter
// matches everything.
func (q *Queue) Subscribe(filter event.Filter) *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan event.Event, q.capacity)
	id := q.nextSubID
	q.nextSubID++
	sub := &subscriber{ch: ch, filter: filter}
	if q.closed {
		close(ch)
		return &Subscription{events: ch, unsub: func() {}}
	}
	q.subscribers[id] = sub

	unsub := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if s, ok := q.subscribers[id]; ok {
			delete(q.subscribers, id)
			close(s.ch)
		}
	}
	return &Subscription{events: ch, unsub: unsub}
}

// OnClose registers a handler invoked exactly once after Close.
func (q *Queue) OnClose(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		fn()
		return
	}
	q.onCloseFns = append(q.onCloseFns, fn)
	q.mu.Unlock()
}

// Close is idempotent. After Close, existing subscriptions drain whatever is
// buffered, then their channel is closed to signal end-of-stream.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		subs := q.subscribers
		q.subscribers = make(map[int64]*subscriber)
		fns := q.onCloseFns
		q.onCloseFns = nil
		q.mu.Unlock()

		for _, s := range subs {
			close(s.ch)
		}
		for _, fn := range fns {
			fn()
		}
	})
}

// Len reports how many subscribers are currently attached. Exposed for
// tests and diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subscribers)
}
