package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// ErrConflict is returned by Update when the document exists but no longer
// matches the expected field values.
var ErrConflict = errors.New("docstore: document changed concurrently")

// ErrUnavailable is returned while the store is considered unreachable.
var ErrUnavailable = errors.New("docstore: store unavailable")

// Collection names used by the service.
const (
	CollectionCarts         = "carts"
	CollectionOrders        = "orders"
	CollectionProducts      = "products"
	CollectionEvents        = "events"
	CollectionNotifications = "notifications"
)

// SetOptions controls Set semantics. Merge overlays the top-level fields of the
// document on the stored one instead of replacing it.
type SetOptions struct {
	Merge bool
}

// Query selects documents from a collection. Filter matches top-level fields by equality.
type Query struct {
	Filter     map[string]any
	SortBy     string
	Descending bool
	Limit      int
	Skip       int
}

// Document is a raw BSON document returned by List.
type Document []byte

// Decode unmarshals the document into dst.
func (d Document) Decode(dst any) error {
	return bson.Unmarshal(d, dst)
}

// Store is a schemaless key-document database.
type Store interface {
	Get(ctx context.Context, collection, key string, dst any) error
	Set(ctx context.Context, collection, key string, doc any, opts SetOptions) error
	Add(ctx context.Context, collection string, doc any) (string, error)
	// Update sets fields on the document under key if its current top-level
	// fields equal expect. A nil expect updates unconditionally.
	Update(ctx context.Context, collection, key string, expect, fields map[string]any) error
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	Ping(ctx context.Context) error
}

func toFields(doc any) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	fields := bson.M{}
	if err := bson.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
