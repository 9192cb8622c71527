// Package docstore is the document backend adapter: a single MongoDB
// collection with no fixed schema, holding whatever fields the placement
// engine routes to it, including nested structures native to BSON.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driftline/internal/pipeline"
)

const collectionName = "ingested_records"

// Adapter is a mongo-driver-backed document adapter.
type Adapter struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Open connects to uri, selects dbName, ensures the mandatory indexes
// exist, and returns a ready Adapter.
func Open(ctx context.Context, uri, dbName string) (*Adapter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)
	a := &Adapter{client: client, collection: collection}
	if err := a.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return a, nil
}

func (a *Adapter) ensureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sys_ingested_at", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "username", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("docstore: ensure indexes: %w", err)
	}
	return nil
}

// Insert writes record as a single document. Nested maps and slices pass
// through to BSON natively; no flattening happens on this side.
func (a *Adapter) Insert(ctx context.Context, record map[string]any) error {
	if len(record) == 0 {
		return nil
	}
	if _, ok := record["sys_ingested_at"]; !ok {
		record["sys_ingested_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	_, err := a.collection.InsertOne(ctx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &pipeline.DuplicateKeyError{Backend: "doc", Key: "sys_ingested_at", Err: err}
		}
		return fmt.Errorf("docstore: insert: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (a *Adapter) Close() error {
	return a.client.Disconnect(context.Background())
}
