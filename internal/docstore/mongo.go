package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect opens a MongoDB client and verifies connectivity.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName("toko-cart").
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(database), nil
}

// Mongo implements Store on top of a MongoDB database. Document keys map to _id.
type Mongo struct {
	db *mongo.Database
}

// NewMongo wraps db.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// Get decodes the document stored under key into dst.
func (m *Mongo) Get(ctx context.Context, collection, key string, dst any) error {
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(dst)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find %s/%s: %w", collection, key, err)
	}
	return nil
}

// Set upserts doc under key, replacing it or merging its top-level fields.
func (m *Mongo) Set(ctx context.Context, collection, key string, doc any, opts SetOptions) error {
	coll := m.db.Collection(collection)
	filter := bson.M{"_id": key}
	if opts.Merge {
		fields, err := toFields(doc)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", collection, key, err)
		}
		delete(fields, "_id")
		if len(fields) == 0 {
			return nil
		}
		_, err = coll.UpdateOne(ctx, filter, bson.M{"$set": fields}, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, key, err)
		}
		return nil
	}
	if _, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("replace %s/%s: %w", collection, key, err)
	}
	return nil
}

// Add inserts doc under a generated key and returns it.
func (m *Mongo) Add(ctx context.Context, collection string, doc any) (string, error) {
	fields, err := toFields(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", collection, err)
	}
	id := uuid.NewString()
	fields["_id"] = id
	if _, err := m.db.Collection(collection).InsertOne(ctx, fields); err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	return id, nil
}

// Update sets fields on an existing document matching expect.
func (m *Mongo) Update(ctx context.Context, collection, key string, expect, fields map[string]any) error {
	coll := m.db.Collection(collection)
	filter := bson.M{"_id": key}
	for k, v := range expect {
		filter[k] = v
	}
	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if len(expect) == 0 {
		return ErrNotFound
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("count %s/%s: %w", collection, key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// List returns documents matching q.
func (m *Mongo) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter := bson.M{}
	for k, v := range q.Filter {
		filter[k] = v
	}
	opts := options.Find()
	if q.SortBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.SortBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Skip > 0 {
		opts.SetSkip(int64(q.Skip))
	}
	cur, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		docs = append(docs, Document(append([]byte(nil), cur.Current...)))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return docs, nil
}

// Ping checks connectivity to the primary.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates the secondary indexes used by order listings.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(CollectionOrders).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ownerKey", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}
	return nil
}
