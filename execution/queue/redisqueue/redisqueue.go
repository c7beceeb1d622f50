// Package redisqueue is an optional cross-process fan-out backend for the
// Event Queue (C1): it backs an execution's event stream with a Redis
// Stream (XADD/XREAD) instead of an in-process channel, so multiple API
// replicas can each subscribe to the same execution without one owning the
// in-memory queue.Queue. It is not wired into the default Service — a
// deployment opts in by passing a *Publisher/*Subscriber pair instead of a
// queue.Registry when it needs cross-replica fan-out.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaingraphlabs/chaingraph/execution/event"
)

// DefaultMaxLen approximately caps how many entries Redis retains per
// execution stream, trimmed on each XADD (mirrors queue.DefaultCapacity's
// role of bounding unbounded growth, but at the durable-stream level).
const DefaultMaxLen = 1000

// envelope is the wire format written to a Redis stream entry. Data is
// round-tripped as JSON since event.Event.Data is an arbitrary `any`.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Options configures a Publisher or Subscriber.
type Options struct {
	// Client is the Redis connection. Required.
	Client *redis.Client
	// MaxLen approximately bounds entries retained per stream. Defaults to
	// DefaultMaxLen.
	MaxLen int64
}

func streamKey(executionID string) string {
	return "execd:stream:" + executionID
}

// Publisher writes execution events to their Redis stream.
type Publisher struct {
	client *redis.Client
	maxLen int64
}

// NewPublisher constructs a Publisher. opts.Client is required.
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("redisqueue: redis client is required")
	}
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Publisher{client: opts.Client, maxLen: maxLen}, nil
}

// Publish appends typ/data to executionID's stream, approximately trimming
// to MaxLen. It returns the Redis-assigned entry id.
func (p *Publisher) Publish(ctx context.Context, executionID string, typ event.Type, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("redisqueue: marshal event data: %w", err)
	}
	env := envelope{Type: string(typ), Timestamp: time.Now(), Data: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("redisqueue: marshal envelope: %w", err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(executionID),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"envelope": raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redisqueue: xadd: %w", err)
	}
	return id, nil
}

// Subscriber reads execution events back out of Redis, blocking for new
// entries as they arrive.
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber constructs a Subscriber. opts.Client is required.
func NewSubscriber(opts Options) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("redisqueue: redis client is required")
	}
	return &Subscriber{client: opts.Client}, nil
}

// Subscribe streams executionID's events from the given Redis entry id
// onward ("$" for "only new entries from now"), decoding each into an
// event.Event. The returned channel is closed when ctx is cancelled.
func (s *Subscriber) Subscribe(ctx context.Context, executionID, fromID string) (<-chan event.Event, <-chan error) {
	if fromID == "" {
		fromID = "$"
	}
	events := make(chan event.Event, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		key := streamKey(executionID)
		lastID := fromID
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			res, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Block:   5 * time.Second,
				Count:   100,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				select {
				case errs <- fmt.Errorf("redisqueue: xread: %w", err):
				default:
				}
				return
			}
			for _, stream := range res {
				for _, msg := range stream.Messages {
					evt, err := decode(executionID, msg)
					if err != nil {
						select {
						case errs <- err:
						default:
						}
						continue
					}
					select {
					case events <- evt:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, errs
}

func decode(executionID string, msg redis.XMessage) (event.Event, error) {
	raw, ok := msg.Values["envelope"].(string)
	if !ok {
		return event.Event{}, fmt.Errorf("redisqueue: entry %s missing envelope field", msg.ID)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return event.Event{}, fmt.Errorf("redisqueue: decode entry %s: %w", msg.ID, err)
	}
	var data any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return event.Event{}, fmt.Errorf("redisqueue: decode entry %s data: %w", msg.ID, err)
		}
	}
	return event.Event{
		ExecutionID: executionID,
		Type:        event.Type(env.Type),
		Timestamp:   env.Timestamp,
		Data:        data,
	}, nil
}
