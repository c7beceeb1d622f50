// Package mongostore implements store.Backend on top of MongoDB, durably
// persisting terminal ExecutionInstance records.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chaingraphlabs/chaingraph/execution/instance"
	"github.com/chaingraphlabs/chaingraph/execution/store"
)

const (
	defaultCollection = "executions"
	defaultTimeout    = 5 * time.Second
)

type recordDocument struct {
	ID                 string          `bson:"_id"`
	FlowID             string          `bson:"flow_id,omitempty"`
	ParentExecutionID  string          `bson:"parent_execution_id,omitempty"`
	Status             string          `bson:"status"`
	CreatedAt          time.Time       `bson:"created_at"`
	StartedAt          *time.Time      `bson:"started_at,omitempty"`
	CompletedAt        *time.Time      `bson:"completed_at,omitempty"`
	ErrorMessage       string          `bson:"error_message,omitempty"`
	ErrorNodeID        string          `bson:"error_node_id,omitempty"`
	ExecutionDepth     int             `bson:"execution_depth"`
	ExternalEventsJSON json.RawMessage `bson:"external_events,omitempty"`
	FlowName           string          `bson:"flow_name,omitempty"`
	FlowData           []byte          `bson:"flow_data,omitempty"`
	ContextEventJSON   json.RawMessage `bson:"context_event_data,omitempty"`
	ChildExecutionIDs  []string        `bson:"child_execution_ids,omitempty"`
}

// Options configures Backend.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Backend is a MongoDB-backed store.Backend.
type Backend struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// New returns a Backend backed by opts.Client, ensuring the indices that
// support the store's common lookups (by parentExecutionId, flowId, and
// status) exist.
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

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent_execution_id", Value: 1}}},
		{Keys: bson.D{{Key: "flow_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ictx, indexes); err != nil {
		return nil, err
	}
	return &Backend{coll: coll, timeout: timeout}, nil
}

// Upsert writes rec, replacing any existing document with the same id.
func (b *Backend) Upsert(ctx context.Context, rec store.Record) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	doc, err := toDocument(rec)
	if err != nil {
		return err
	}
	_, err = b.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// Get returns the record for id, if present.
func (b *Backend) Get(ctx context.Context, id string) (store.Record, bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var doc recordDocument
	err := b.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	rec, err := fromDocument(doc)
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// Delete removes the record for id.
func (b *Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	_, err := b.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// List returns records sorted by created_at descending, capped at limit (0
// means unbounded).
func (b *Backend) List(ctx context.Context, limit int) ([]store.Record, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := b.coll.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []store.Record
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cur.Err()
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func toDocument(rec store.Record) (recordDocument, error) {
	doc := recordDocument{
		ID:                rec.ID,
		FlowID:            rec.FlowID,
		ParentExecutionID: rec.ParentExecutionID,
		Status:            string(rec.Status),
		CreatedAt:         rec.CreatedAt,
		StartedAt:         rec.StartedAt,
		CompletedAt:       rec.CompletedAt,
		ErrorMessage:      rec.ErrorMessage,
		ErrorNodeID:       rec.ErrorNodeID,
		ExecutionDepth:    rec.ExecutionDepth,
		FlowName:          rec.FlowName,
		FlowData:          rec.FlowData,
		ChildExecutionIDs: rec.ChildExecutionIDs,
	}
	if len(rec.ExternalEvents) > 0 {
		data, err := json.Marshal(rec.ExternalEvents)
		if err != nil {
			return recordDocument{}, err
		}
		doc.ExternalEventsJSON = data
	}
	if rec.ContextEventData != nil {
		data, err := json.Marshal(rec.ContextEventData)
		if err != nil {
			return recordDocument{}, err
		}
		doc.ContextEventJSON = data
	}
	return doc, nil
}

func fromDocument(doc recordDocument) (store.Record, error) {
	rec := store.Record{
		ID:                doc.ID,
		FlowID:            doc.FlowID,
		ParentExecutionID: doc.ParentExecutionID,
		Status:            instance.Status(doc.Status),
		CreatedAt:         doc.CreatedAt,
		StartedAt:         doc.StartedAt,
		CompletedAt:       doc.CompletedAt,
		ErrorMessage:      doc.ErrorMessage,
		ErrorNodeID:       doc.ErrorNodeID,
		ExecutionDepth:    doc.ExecutionDepth,
		FlowName:          doc.FlowName,
		FlowData:          doc.FlowData,
		ChildExecutionIDs: doc.ChildExecutionIDs,
	}
	if len(doc.ExternalEventsJSON) > 0 {
		if err := json.Unmarshal(doc.ExternalEventsJSON, &rec.ExternalEvents); err != nil {
			return store.Record{}, err
		}
	}
	if len(doc.ContextEventJSON) > 0 {
		var ed instance.EventData
		if err := json.Unmarshal(doc.ContextEventJSON, &ed); err != nil {
			return store.Record{}, err
		}
		rec.ContextEventData = &ed
	}
	return rec, nil
}
