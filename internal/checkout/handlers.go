package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-cart/internal/cart"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/order"
)

// Binder resolves the cart engine of the calling session.
type Binder interface {
	Bind(w http.ResponseWriter, r *http.Request) (*cart.Engine, *cart.PersistenceError, bool)
}

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc   *Service
	Carts Binder
}

// Checkout places an order from the session cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload Input
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteBadRequest(w, err)
		return
	}
	eng, _, ok := h.Carts.Bind(w, r)
	if !ok {
		return
	}
	out, err := h.Svc.Place(r.Context(), eng, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view(out)})
}

// SimulatePayment handles POST /v1/orders/{id}/payment. It stands in for a
// payment gateway: the buyer's client reports the outcome itself, so it must
// be replaced by a verified gateway callback before taking real payments.
func (h *Handler) SimulatePayment(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload PaymentInput
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteBadRequest(w, err)
		return
	}
	eng, _, ok := h.Carts.Bind(w, r)
	if !ok {
		return
	}
	out, err := h.Svc.ConfirmPayment(r.Context(), eng, chi.URLParam(r, "id"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view(out)})
}

func view(res Result) map[string]any {
	return map[string]any{
		"order":       order.View(res.Order, true),
		"cartCleared": res.CartCleared,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
	case common.ValidationDetails(err) != nil:
		common.WriteBadRequest(w, err)
	case errors.Is(err, cart.ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", "cart is empty", nil)
	case errors.Is(err, ErrLoginRequired):
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "login required to check out", nil)
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, order.ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		common.WriteError(w, err, http.StatusInternalServerError, "INTERNAL", "checkout failed")
	}
}
