package pulsebus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/chaingraphlabs/chaingraph/execution/event"
)

type fakeSink struct {
	ch chan *streaming.Event
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }
func (s *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error { return nil }
func (s *fakeSink) Close(ctx context.Context)                          {}

type fakeStream struct {
	added chan []byte
	sink  *fakeSink
}

func (s *fakeStream) Add(ctx context.Context, typ string, payload []byte) (string, error) {
	s.added <- payload
	return "1-0", nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	return s.sink, nil
}

type fakeClient struct {
	stream *fakeStream
}

func (c *fakeClient) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	return c.stream, nil
}

func TestPublishThenSubscribeRoundTripsEvent(t *testing.T) {
	sinkCh := make(chan *streaming.Event, 1)
	stream := &fakeStream{added: make(chan []byte, 1), sink: &fakeSink{ch: sinkCh}}
	bus := New(&fakeClient{stream: stream})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, "exec-1", event.NodeCompleted, map[string]any{"out": float64(7)}))

	raw := <-stream.added
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, string(event.NodeCompleted), env.Type)

	events, errs, cancel, err := bus.Subscribe(ctx, "exec-1", "sink-1")
	require.NoError(t, err)
	defer cancel()

	sinkCh <- &streaming.Event{ID: "1-0", Payload: raw}

	select {
	case evt := <-events:
		assert.Equal(t, "exec-1", evt.ExecutionID)
		assert.Equal(t, event.NodeCompleted, evt.Type)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	sinkCh := make(chan *streaming.Event)
	stream := &fakeStream{added: make(chan []byte, 1), sink: &fakeSink{ch: sinkCh}}
	bus := New(&fakeClient{stream: stream})

	events, _, cancel, err := bus.Subscribe(context.Background(), "exec-1", "sink-1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel did not close after cancel")
	}
}
