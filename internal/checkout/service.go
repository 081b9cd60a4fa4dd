package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/cart"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/events"
	"github.com/noah-isme/toko-cart/internal/obs"
	"github.com/noah-isme/toko-cart/internal/order"
	"github.com/noah-isme/toko-cart/internal/pricing"
)

var (
	// ErrLoginRequired is returned for guest checkouts when they are disabled.
	ErrLoginRequired = errors.New("checkout: login required")
	// ErrNotConfigured is returned when the service lacks its stores.
	ErrNotConfigured = errors.New("checkout: service not configured")
)

// Input is the customer's checkout form.
type Input struct {
	Shipping      order.ShippingInfo  `json:"shippingInfo" validate:"required"`
	PaymentMethod order.PaymentMethod `json:"paymentMethod" validate:"required,oneof=cod online"`
}

// PaymentInput reports the outcome of an online payment.
type PaymentInput struct {
	Success       *bool  `json:"success" validate:"required"`
	TransactionID string `json:"transactionId" validate:"omitempty,max=64"`
}

// Result is the outcome of placing an order.
type Result struct {
	Order       order.Record `json:"order"`
	CartCleared bool         `json:"cartCleared"`
}

// Emitter records domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service turns carts into orders.
type Service struct {
	Orders     *order.Service
	Events     Emitter
	Policy     pricing.Policy
	Currency   string
	AllowGuest bool
	Logger     zerolog.Logger
}

// Place snapshots the session cart into an order. Cash-on-delivery orders
// clear the cart once the order is stored; online orders keep it until the
// payment is confirmed.
func (s *Service) Place(ctx context.Context, eng *cart.Engine, in Input) (Result, error) {
	if s == nil || s.Orders == nil || s.Orders.Store == nil || eng == nil {
		return Result{}, ErrNotConfigured
	}
	if err := common.Validator().Struct(in); err != nil {
		return Result{}, err
	}
	if !s.AllowGuest && eng.State() != cart.StateOwned {
		return Result{}, ErrLoginRequired
	}
	// the snapshot below reads memory, but the order should not outrun the cart write
	if err := eng.Flush(ctx); err != nil {
		return Result{}, fmt.Errorf("flush cart: %w", err)
	}
	in.Shipping.Email = strings.TrimSpace(strings.ToLower(in.Shipping.Email))
	rec, err := eng.ToOrderRecord(in.Shipping, in.PaymentMethod, s.Policy)
	if err != nil {
		return Result{}, err
	}
	rec.Currency = s.Currency
	rec, err = s.Orders.Store.Create(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	if obs.OrdersPlacedTotal != nil {
		obs.OrdersPlacedTotal.WithLabelValues(string(rec.PaymentMethod)).Inc()
	}
	s.Logger.Info().
		Str("order_id", rec.ID).
		Str("owner", rec.OwnerKey).
		Str("payment_method", string(rec.PaymentMethod)).
		Str("total", rec.Total.StringFixed(2)).
		Msg("order_placed")
	s.emit(ctx, rec)

	res := Result{Order: rec}
	if rec.PaymentMethod == order.PaymentCOD {
		res.CartCleared = s.clear(eng, rec.ID)
	}
	return res, nil
}

// ConfirmPayment settles an online order placed from this session with the
// outcome reported by the simulated gateway. A successful payment clears the
// cart; a failed one leaves it for a retry.
func (s *Service) ConfirmPayment(ctx context.Context, eng *cart.Engine, orderID string, in PaymentInput) (Result, error) {
	if s == nil || s.Orders == nil || eng == nil {
		return Result{}, ErrNotConfigured
	}
	if err := common.Validator().Struct(in); err != nil {
		return Result{}, err
	}
	owner := eng.Cart().OwnerKey
	if _, err := s.Orders.Get(ctx, orderID, owner); err != nil {
		return Result{}, err
	}
	rec, err := s.Orders.SettlePayment(ctx, orderID, *in.Success, in.TransactionID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Order: rec}
	if rec.PaymentStatus == order.PaymentCompleted {
		res.CartCleared = s.clear(eng, rec.ID)
	}
	return res, nil
}

func (s *Service) clear(eng *cart.Engine, orderID string) bool {
	if _, err := eng.Clear(); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("checkout_cart_clear_failed")
		return false
	}
	return true
}

func (s *Service) emit(ctx context.Context, rec order.Record) {
	if s.Events == nil {
		return
	}
	payload := map[string]any{
		"orderId":       rec.ID,
		"total":         rec.Total.StringFixed(2),
		"paymentMethod": string(rec.PaymentMethod),
		"itemCount":     pricing.ItemCount(rec.Lines),
	}
	if rec.UserID != "" {
		payload["userId"] = rec.UserID
	}
	if rec.Shipping.Email != "" {
		payload["email"] = rec.Shipping.Email
	}
	if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, rec.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", rec.ID).Msg("order_event_emit_failed")
	}
}
