// Package mongostore implements eventstore.Backend on top of MongoDB,
// durably persisting flushed event batches keyed by (executionId, index).
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chaingraphlabs/chaingraph/execution/event"
	"github.com/chaingraphlabs/chaingraph/execution/eventstore"
)

const (
	defaultCollection = "execution_events"
	defaultTimeout    = 5 * time.Second
)

type eventDocument struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	ExecutionID string        `bson:"execution_id"`
	Index       int64         `bson:"index"`
	Type        string        `bson:"type"`
	Timestamp   time.Time     `bson:"timestamp"`
	Data        any           `bson:"data"`
}

// Options configures Backend.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Backend is a MongoDB-backed eventstore.Backend.
type Backend struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// New returns a Backend backed by opts.Client, ensuring the unique
// (execution_id, index) index used both for ordered reads and for
// idempotent writes exists.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "execution_id", Value: 1}, {Key: "index", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &Backend{coll: coll, timeout: timeout}, nil
}

// WriteBatch inserts batch in one unordered bulk write so a duplicate key on
// one event (already-seen index) does not prevent the rest from landing;
// duplicate key errors are swallowed as the idempotency contract requires.
func (b *Backend) WriteBatch(ctx context.Context, executionID string, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	models := make([]mongo.WriteModel, len(batch))
	for i, e := range batch {
		models[i] = mongo.NewInsertOneModel().SetDocument(eventDocument{
			ExecutionID: executionID,
			Index:       e.Index,
			Type:        string(e.Type),
			Timestamp:   e.Timestamp.UTC(),
			Data:        e.Data,
		})
	}

	_, err := b.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil || mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// List returns events for executionID with index > fromIndex, ascending.
func (b *Backend) List(ctx context.Context, executionID string, fromIndex int64, limit int) (eventstore.Page, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"execution_id": executionID, "index": bson.M{"$gt": fromIndex}}
	cur, err := b.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "index", Value: 1}}).
		SetLimit(int64(limit+1)))
	if err != nil {
		return eventstore.Page{}, err
	}
	defer cur.Close(ctx)

	var events []event.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return eventstore.Page{}, err
		}
		events = append(events, event.Event{
			ExecutionID: doc.ExecutionID,
			Index:       doc.Index,
			Type:        event.Type(doc.Type),
			Timestamp:   doc.Timestamp,
			Data:        doc.Data,
		})
	}
	if err := cur.Err(); err != nil {
		return eventstore.Page{}, err
	}

	hasMore := len(events) > limit
	next := fromIndex
	if hasMore {
		events = events[:limit]
	}
	if len(events) > 0 {
		next = events[len(events)-1].Index
	}
	return eventstore.Page{Events: events, NextCursor: next, HasMore: hasMore}, nil
}

// Delete removes every event recorded for executionID.
func (b *Backend) Delete(ctx context.Context, executionID string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	_, err := b.coll.DeleteMany(ctx, bson.M{"execution_id": executionID})
	return err
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}
