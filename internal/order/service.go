package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/events"
	"github.com/noah-isme/toko-cart/internal/obs"
)

// Emitter records domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service applies lifecycle changes to stored orders.
type Service struct {
	Store  *Store
	Events Emitter
	Logger zerolog.Logger
}

// NewService constructs an order service.
func NewService(store *Store, emitter Emitter, logger zerolog.Logger) *Service {
	return &Service{Store: store, Events: emitter, Logger: logger}
}

// Get returns an order visible to ownerKey. Orders belonging to someone else
// are reported as not found.
func (s *Service) Get(ctx context.Context, id, ownerKey string) (Record, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if ownerKey != "" && rec.OwnerKey != ownerKey {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ListForOwner returns the caller's orders.
func (s *Service) ListForOwner(ctx context.Context, ownerKey string, page common.Pagination) ([]Record, error) {
	return s.Store.ListByOwner(ctx, ownerKey, page)
}

// ListAll returns orders for administrators.
func (s *Service) ListAll(ctx context.Context, status Status, page common.Pagination) ([]Record, error) {
	return s.Store.List(ctx, status, page)
}

// Transition moves an order to a new fulfilment status.
func (s *Service) Transition(ctx context.Context, id string, to Status) (Record, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	from := rec.Status
	if !CanTransition(from, to) {
		return Record{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	if err := s.Store.UpdateStatus(ctx, id, from, to); err != nil {
		return Record{}, err
	}
	rec.Status = to
	if obs.OrderTransitionsTotal != nil {
		obs.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	s.emit(ctx, events.TopicOrderStatusChanged, rec, map[string]any{
		"orderId": rec.ID,
		"from":    from,
		"to":      to,
	})
	return rec, nil
}

// SettlePayment records the outcome of an online payment. A failed payment may
// be retried; a completed one is final.
func (s *Service) SettlePayment(ctx context.Context, id string, success bool, transactionID string) (Record, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.PaymentMethod != PaymentOnline {
		return Record{}, fmt.Errorf("%w: order is not paid online", ErrInvalidTransition)
	}
	if rec.PaymentStatus == PaymentCompleted || rec.Status == StatusCancelled {
		return Record{}, fmt.Errorf("%w: payment already settled", ErrInvalidTransition)
	}

	status := PaymentFailed
	topic := events.TopicPaymentFailed
	txID := ""
	if success {
		status = PaymentCompleted
		topic = events.TopicPaymentCompleted
		txID = strings.TrimSpace(transactionID)
		if txID == "" {
			txID = NewTransactionID()
		}
	}
	if err := s.Store.UpdatePayment(ctx, id, rec, status, txID); err != nil {
		return Record{}, err
	}
	rec.PaymentStatus = status
	if txID != "" {
		rec.TransactionID = txID
	}
	if obs.PaymentSettlementsTotal != nil {
		obs.PaymentSettlementsTotal.WithLabelValues(string(status)).Inc()
	}
	s.emit(ctx, topic, rec, map[string]any{
		"orderId":       rec.ID,
		"transactionId": rec.TransactionID,
		"total":         rec.Total.StringFixed(2),
	})
	return rec, nil
}

// NewTransactionID generates a payment reference for simulated gateways.
func NewTransactionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PAY" + strings.ToUpper(id[:10])
}

func (s *Service) emit(ctx context.Context, topic string, rec Record, payload map[string]any) {
	if s.Events == nil {
		return
	}
	if rec.Shipping.Email != "" {
		payload["email"] = rec.Shipping.Email
	}
	if _, err := s.Events.Emit(ctx, topic, rec.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", rec.ID).Str("topic", topic).Msg("order_event_emit_failed")
	}
}
