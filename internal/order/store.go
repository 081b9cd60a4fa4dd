package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/pricing"
)

type recordDocument struct {
	ID            string                 `bson:"_id,omitempty"`
	OwnerKey      string                 `bson:"ownerKey"`
	UserID        string                 `bson:"userId,omitempty"`
	Items         []pricing.LineDocument `bson:"items"`
	Subtotal      string                 `bson:"subtotal"`
	Shipping      string                 `bson:"shipping"`
	Tax           string                 `bson:"tax"`
	Total         string                 `bson:"total"`
	Currency      string                 `bson:"currency"`
	ShippingInfo  ShippingInfo           `bson:"shippingInfo"`
	PaymentMethod string                 `bson:"paymentMethod"`
	Status        string                 `bson:"status"`
	PaymentStatus string                 `bson:"paymentStatus"`
	TransactionID string                 `bson:"transactionId,omitempty"`
	CreatedAt     time.Time              `bson:"createdAt"`
	UpdatedAt     time.Time              `bson:"updatedAt"`
}

func toDocument(rec Record) recordDocument {
	return recordDocument{
		OwnerKey:      rec.OwnerKey,
		UserID:        rec.UserID,
		Items:         pricing.ToDocuments(rec.Lines),
		Subtotal:      rec.Subtotal.String(),
		Shipping:      rec.ShippingFee.String(),
		Tax:           rec.Tax.String(),
		Total:         rec.Total.String(),
		Currency:      rec.Currency,
		ShippingInfo:  rec.Shipping,
		PaymentMethod: string(rec.PaymentMethod),
		Status:        string(rec.Status),
		PaymentStatus: string(rec.PaymentStatus),
		TransactionID: rec.TransactionID,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func fromDocument(doc recordDocument) (Record, error) {
	lines, err := pricing.FromDocuments(doc.Items)
	if err != nil {
		return Record{}, fmt.Errorf("order %s: %w", doc.ID, err)
	}
	rec := Record{
		ID:            doc.ID,
		OwnerKey:      doc.OwnerKey,
		UserID:        doc.UserID,
		Lines:         lines,
		Currency:      doc.Currency,
		Shipping:      doc.ShippingInfo,
		PaymentMethod: PaymentMethod(doc.PaymentMethod),
		Status:        Status(doc.Status),
		PaymentStatus: PaymentStatus(doc.PaymentStatus),
		TransactionID: doc.TransactionID,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if rec.Subtotal, err = pricing.ParseAmount(doc.Subtotal); err != nil {
		return Record{}, fmt.Errorf("order %s subtotal: %w", doc.ID, err)
	}
	if rec.ShippingFee, err = pricing.ParseAmount(doc.Shipping); err != nil {
		return Record{}, fmt.Errorf("order %s shipping: %w", doc.ID, err)
	}
	if rec.Tax, err = pricing.ParseAmount(doc.Tax); err != nil {
		return Record{}, fmt.Errorf("order %s tax: %w", doc.ID, err)
	}
	if rec.Total, err = pricing.ParseAmount(doc.Total); err != nil {
		return Record{}, fmt.Errorf("order %s total: %w", doc.ID, err)
	}
	return rec, nil
}

// Store is the append-only order store. Pricing fields are written once at
// creation; later updates touch only lifecycle fields.
type Store struct {
	Docs docstore.Store
	Now  func() time.Time
}

// NewStore constructs an order store over docs.
func NewStore(docs docstore.Store) *Store {
	return &Store{Docs: docs, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Create appends rec under a generated id and returns the stored record.
func (s *Store) Create(ctx context.Context, rec Record) (Record, error) {
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	id, err := s.Docs.Add(ctx, docstore.CollectionOrders, toDocument(rec))
	if err != nil {
		return Record{}, fmt.Errorf("append order: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// Get loads a single order.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var doc recordDocument
	if err := s.Docs.Get(ctx, docstore.CollectionOrders, id, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("load order: %w", err)
	}
	return fromDocument(doc)
}

// ListByOwner returns the orders placed by ownerKey, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerKey string, page common.Pagination) ([]Record, error) {
	return s.list(ctx, map[string]any{"ownerKey": ownerKey}, page)
}

// List returns all orders, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, status Status, page common.Pagination) ([]Record, error) {
	filter := map[string]any{}
	if status != "" {
		filter["status"] = string(status)
	}
	return s.list(ctx, filter, page)
}

func (s *Store) list(ctx context.Context, filter map[string]any, page common.Pagination) ([]Record, error) {
	docs, err := s.Docs.List(ctx, docstore.CollectionOrders, docstore.Query{
		Filter:     filter,
		SortBy:     "createdAt",
		Descending: true,
		Limit:      page.PerPage,
		Skip:       page.Offset(),
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]Record, 0, len(docs))
	for _, raw := range docs {
		var doc recordDocument
		if err := raw.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		rec, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateStatus moves the fulfilment status from one value to another. It
// fails with ErrInvalidTransition when the stored status is no longer from.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	return s.update(ctx, id, map[string]any{"status": string(from)}, map[string]any{
		"status":    string(to),
		"updatedAt": s.now(),
	})
}

// UpdatePayment sets the payment status and, when present, the transaction id.
// The order must still have the fulfilment and payment status it was read with.
func (s *Store) UpdatePayment(ctx context.Context, id string, seen Record, status PaymentStatus, transactionID string) error {
	fields := map[string]any{
		"paymentStatus": string(status),
		"updatedAt":     s.now(),
	}
	if transactionID != "" {
		fields["transactionId"] = transactionID
	}
	expect := map[string]any{
		"status":        string(seen.Status),
		"paymentStatus": string(seen.PaymentStatus),
	}
	return s.update(ctx, id, expect, fields)
}

func (s *Store) update(ctx context.Context, id string, expect, fields map[string]any) error {
	if err := s.Docs.Update(ctx, docstore.CollectionOrders, id, expect, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		if errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}
