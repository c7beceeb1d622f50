package redisqueue

import (
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/event"
)

func TestDecodeRoundTripsEnvelope(t *testing.T) {
	data, err := json.Marshal(map[string]any{"n": float64(1)})
	require.NoError(t, err)
	env := envelope{Type: string(event.NodeCompleted), Data: data}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	msg := redis.XMessage{ID: "1-0", Values: map[string]any{"envelope": string(raw)}}
	evt, err := decode("exec-1", msg)
	require.NoError(t, err)

	assert.Equal(t, "exec-1", evt.ExecutionID)
	assert.Equal(t, event.NodeCompleted, evt.Type)
	assert.Equal(t, map[string]any{"n": float64(1)}, evt.Data)
}

func TestDecodeMissingEnvelopeFieldErrors(t *testing.T) {
	_, err := decode("exec-1", redis.XMessage{ID: "1-0", Values: map[string]any{}})
	assert.Error(t, err)
}

func TestNewPublisherRequiresClient(t *testing.T) {
	_, err := NewPublisher(Options{})
	assert.Error(t, err)
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(Options{})
	assert.Error(t, err)
}
