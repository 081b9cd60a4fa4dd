package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/docstore"
)

// Channel is the delivery channel shown in the notification center.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelPush || c == ChannelSMS || c == ChannelEmail
}

const (
	// AudienceAll targets every customer.
	AudienceAll = "all"
	// SentBySystem marks notifications generated from domain events.
	SentBySystem = "system"
	statusSent   = "sent"
)

// Notification is a record in the notification center.
type Notification struct {
	ID          string    `json:"id" bson:"_id,omitempty"`
	Type        Channel   `json:"type" bson:"type"`
	Audience    string    `json:"audience" bson:"audience"`
	Recipient   string    `json:"recipient,omitempty" bson:"recipient,omitempty"`
	Title       string    `json:"title" bson:"title"`
	Message     string    `json:"message" bson:"message"`
	Topic       string    `json:"topic,omitempty" bson:"topic,omitempty"`
	AggregateID string    `json:"aggregateId,omitempty" bson:"aggregateId,omitempty"`
	SentBy      string    `json:"sentBy" bson:"sentBy"`
	Status      string    `json:"status" bson:"status"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// Store keeps notifications in the document store.
type Store struct {
	Docs docstore.Store
	Now  func() time.Time
}

// NewStore returns a notification store.
func NewStore(docs docstore.Store) *Store {
	return &Store{Docs: docs}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) stamp(n *Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.Status = statusSent
}

// Put stores n under id, replacing an earlier copy. Redelivered tasks write
// the same document again instead of a duplicate.
func (s *Store) Put(ctx context.Context, id string, n Notification) (Notification, error) {
	if s == nil || s.Docs == nil {
		return Notification{}, errors.New("notify: store not configured")
	}
	s.stamp(&n)
	n.ID = ""
	if err := s.Docs.Set(ctx, docstore.CollectionNotifications, id, n, docstore.SetOptions{}); err != nil {
		return Notification{}, fmt.Errorf("store notification %s: %w", id, err)
	}
	n.ID = id
	return n, nil
}

// Add appends n under a generated id.
func (s *Store) Add(ctx context.Context, n Notification) (Notification, error) {
	if s == nil || s.Docs == nil {
		return Notification{}, errors.New("notify: store not configured")
	}
	s.stamp(&n)
	n.ID = ""
	id, err := s.Docs.Add(ctx, docstore.CollectionNotifications, n)
	if err != nil {
		return Notification{}, fmt.Errorf("add notification: %w", err)
	}
	n.ID = id
	return n, nil
}

// List returns notifications newest first, optionally for one audience.
func (s *Store) List(ctx context.Context, audience string, page common.Pagination) ([]Notification, error) {
	if s == nil || s.Docs == nil {
		return nil, errors.New("notify: store not configured")
	}
	filter := map[string]any{}
	if audience != "" {
		filter["audience"] = audience
	}
	docs, err := s.Docs.List(ctx, docstore.CollectionNotifications, docstore.Query{
		Filter:     filter,
		SortBy:     "createdAt",
		Descending: true,
		Limit:      page.PerPage,
		Skip:       page.Offset(),
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]Notification, 0, len(docs))
	for _, raw := range docs {
		var n Notification
		if err := raw.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}
