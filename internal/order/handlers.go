package order

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-cart/internal/common"
)

// OwnerFunc resolves the order owner key for a request: the principal id when
// authenticated, otherwise the cart session token.
type OwnerFunc func(r *http.Request) (string, bool)

// Handler exposes the customer order endpoints.
type Handler struct {
	Service *Service
	Owner   OwnerFunc
}

type lineView struct {
	ProductID string `json:"productId"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Amount    string `json:"amount"`
}

type recordView struct {
	ID            string        `json:"id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	TransactionID string        `json:"transactionId,omitempty"`
	Items         []lineView    `json:"items,omitempty"`
	Subtotal      string        `json:"subtotal"`
	Shipping      string        `json:"shipping"`
	Tax           string        `json:"tax"`
	Total         string        `json:"total"`
	Currency      string        `json:"currency"`
	ShippingInfo  *ShippingInfo `json:"shippingInfo,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// View renders a record for API responses. Items and shipping info are only
// included in detailed views.
func View(rec Record, detailed bool) any {
	v := recordView{
		ID:            rec.ID,
		Status:        rec.Status,
		PaymentStatus: rec.PaymentStatus,
		PaymentMethod: rec.PaymentMethod,
		TransactionID: rec.TransactionID,
		Subtotal:      rec.Subtotal.StringFixed(2),
		Shipping:      rec.ShippingFee.StringFixed(2),
		Tax:           rec.Tax.StringFixed(2),
		Total:         rec.Total.StringFixed(2),
		Currency:      rec.Currency,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if detailed {
		v.Items = make([]lineView, 0, len(rec.Lines))
		for _, l := range rec.Lines {
			v.Items = append(v.Items, lineView{
				ProductID: l.ProductID,
				UnitPrice: l.UnitPrice.StringFixed(2),
				Quantity:  l.Quantity,
				Amount:    l.Amount().StringFixed(2),
			})
		}
		info := rec.Shipping
		v.ShippingInfo = &info
	}
	return v
}

// List returns the caller's orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.Owner(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no cart session or principal", nil)
		return
	}
	page := common.ParsePagination(r, 20)
	records, err := h.Service.ListForOwner(r.Context(), owner, page)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	data := make([]any, 0, len(records))
	for _, rec := range records {
		data = append(data, View(rec, false))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": page})
}

// Get returns one of the caller's orders.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.Owner(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no cart session or principal", nil)
		return
	}
	rec, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		writeError(w, err, "failed to load order")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": View(rec, true)})
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", fallback, nil)
	}
}
