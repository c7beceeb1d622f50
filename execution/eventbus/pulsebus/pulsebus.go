// Package pulsebus is an optional Pulse-backed alternative to the in-memory
// queue.Queue for the Event Queue (C1), for deployments that already run
// Pulse (goa.design/pulse) for other streams and want one consistent
// transport. It is not wired into the default Service; a deployment opts in
// by constructing a Bus and handing its Publish/Subscribe to its own
// wiring in place of a queue.Registry.
package pulsebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/chaingraphlabs/chaingraph/execution/event"
)

// envelope is the JSON payload written to a Pulse stream entry.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client is the subset of Pulse streaming required by Bus, mirrored from
// features/stream/pulse/clients/pulse.Client so this package does not
// depend on that internal wrapper.
type Client interface {
	Stream(name string, opts ...streamopts.Stream) (Stream, error)
}

// Stream is the subset of a Pulse stream Bus needs.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
	NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
}

// Sink is the subset of a Pulse consumer group Bus needs.
type Sink interface {
	Subscribe() <-chan *streaming.Event
	Ack(context.Context, *streaming.Event) error
	Close(context.Context)
}

// Bus publishes and subscribes to one execution's event stream over Pulse.
type Bus struct {
	client Client
}

// New constructs a Bus over an already-configured Pulse Client.
func New(client Client) *Bus {
	return &Bus{client: client}
}

func streamName(executionID string) string {
	return "execd.stream." + executionID
}

// Publish appends typ/data to executionID's Pulse stream.
func (b *Bus) Publish(ctx context.Context, executionID string, typ event.Type, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("pulsebus: marshal event data: %w", err)
	}
	raw, err := json.Marshal(envelope{Type: string(typ), Timestamp: time.Now(), Data: payload})
	if err != nil {
		return fmt.Errorf("pulsebus: marshal envelope: %w", err)
	}
	str, err := b.client.Stream(streamName(executionID))
	if err != nil {
		return fmt.Errorf("pulsebus: open stream: %w", err)
	}
	if _, err := str.Add(ctx, string(typ), raw); err != nil {
		return fmt.Errorf("pulsebus: add: %w", err)
	}
	return nil
}

// Subscribe opens a Pulse sink on executionID's stream under sinkName and
// emits decoded event.Events until ctx is cancelled or the returned cancel
// func is called, at which point both returned channels are closed. Only the
// returned cancel func closes the sink; cancelling ctx alone leaves it open.
func (b *Bus) Subscribe(ctx context.Context, executionID, sinkName string) (<-chan event.Event, <-chan error, context.CancelFunc, error) {
	str, err := b.client.Stream(streamName(executionID))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pulsebus: open stream: %w", err)
	}
	sink, err := str.NewSink(ctx, sinkName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pulsebus: open sink: %w", err)
	}

	events := make(chan event.Event, 64)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go b.consume(runCtx, executionID, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

func (b *Bus) consume(ctx context.Context, executionID string, sink Sink, out chan<- event.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			evt, err := decode(executionID, raw.Payload)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, raw); err != nil {
				select {
				case errs <- fmt.Errorf("pulsebus: ack: %w", err):
				default:
				}
				return
			}
		}
	}
}

func decode(executionID string, payload []byte) (event.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return event.Event{}, fmt.Errorf("pulsebus: decode envelope: %w", err)
	}
	var data any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return event.Event{}, fmt.Errorf("pulsebus: decode data: %w", err)
		}
	}
	return event.Event{
		ExecutionID: executionID,
		Type:        event.Type(env.Type),
		Timestamp:   env.Timestamp,
		Data:        data,
	}, nil
}
