package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an in-process Store. Documents are kept BSON encoded so decoding
// behaves like the Mongo implementation.
type Memory struct {
	mu     sync.Mutex
	colls  map[string]map[string]bson.M
	order  map[string][]string
	writes int
	fail   error
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{colls: map[string]map[string]bson.M{}, order: map[string][]string{}}
}

// FailWrites makes subsequent writes return err. Passing nil restores writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Writes reports how many successful writes were applied.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get decodes the document stored under key into dst.
func (m *Memory) Get(_ context.Context, collection, key string, dst any) error {
	m.mu.Lock()
	doc, ok := m.colls[collection][key]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, dst)
}

// Set stores doc under key, replacing it or merging its top-level fields.
func (m *Memory) Set(_ context.Context, collection, key string, doc any, opts SetOptions) error {
	fields, err := toFields(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	existing, ok := m.colls[collection][key]
	if opts.Merge && ok {
		for k, v := range fields {
			if k == "_id" {
				continue
			}
			existing[k] = v
		}
		m.writes++
		return nil
	}
	m.putLocked(collection, key, fields)
	return nil
}

// Add stores doc under a generated key.
func (m *Memory) Add(_ context.Context, collection string, doc any) (string, error) {
	fields, err := toFields(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", collection, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	id := uuid.NewString()
	m.putLocked(collection, id, fields)
	return id, nil
}

// Update sets fields on an existing document matching expect.
func (m *Memory) Update(_ context.Context, collection, key string, expect, fields map[string]any) error {
	encoded, err := toFields(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	existing, ok := m.colls[collection][key]
	if !ok {
		return ErrNotFound
	}
	if !matches(existing, expect) {
		return ErrConflict
	}
	for k, v := range encoded {
		existing[k] = v
	}
	m.writes++
	return nil
}

// List returns documents matching q in insertion order unless SortBy is set.
func (m *Memory) List(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.Lock()
	var matched []bson.M
	for _, key := range m.order[collection] {
		doc := m.colls[collection][key]
		if matches(doc, q.Filter) {
			matched = append(matched, doc)
		}
	}
	m.mu.Unlock()

	if q.SortBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := matched[i][q.SortBy], matched[j][q.SortBy]
			if q.Descending {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	docs := make([]Document, 0, len(matched))
	for _, doc := range matched {
		data, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document(data))
	}
	return docs, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) putLocked(collection, key string, fields bson.M) {
	if m.colls[collection] == nil {
		m.colls[collection] = map[string]bson.M{}
	}
	if _, ok := m.colls[collection][key]; !ok {
		m.order[collection] = append(m.order[collection], key)
	}
	fields["_id"] = key
	m.colls[collection][key] = fields
	m.writes++
}

func matches(doc bson.M, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprint(doc[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func less(a, b any) bool {
	switch av := a.(type) {
	case primitive.DateTime:
		bv, _ := b.(primitive.DateTime)
		return av < bv
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Before(bv)
	case string:
		bv, _ := b.(string)
		return av < bv
	case int32:
		bv, _ := b.(int32)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	default:
		return false
	}
}
