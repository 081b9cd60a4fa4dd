package cart

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/pricing"
)

// SessionHeader carries the cart session token for clients without cookies.
const SessionHeader = "X-Cart-Session"

// ErrUnknownProduct is returned by a Catalog for products it does not sell.
var ErrUnknownProduct = errors.New("cart: unknown product")

// Sessions binds requests to their session's engine.
type Sessions interface {
	Resolve(ctx context.Context, token string, principal *common.Principal) (*Engine, error)
	Logout(ctx context.Context, token string) error
}

// ProductInfo is the catalog view of a product.
type ProductInfo struct {
	Name     string
	ImageURL string
	Price    decimal.Decimal
}

// Catalog looks up current product data.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (ProductInfo, error)
}

// HandlerConfig configures the cart HTTP handlers.
type HandlerConfig struct {
	Sessions Sessions
	// Catalog supplies unit prices. Without one the client price is accepted.
	Catalog      Catalog
	Policy       pricing.Policy
	Currency     string
	CookieName   string
	CookieTTL    time.Duration
	SecureCookie bool
	Logger       zerolog.Logger
}

// Handler exposes the cart endpoints.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "toko_cart"
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Handler{cfg: cfg}
}

type addItemRequest struct {
	ProductID string           `json:"productId" validate:"required,max=128"`
	Quantity  int              `json:"quantity" validate:"min=1,max=999"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity" validate:"max=999"`
}

type itemView struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Amount    string `json:"amount"`
}

type syncView struct {
	Seq               uint64 `json:"seq"`
	PersistedSeq      uint64 `json:"persistedSeq"`
	PendingRemoteSync bool   `json:"pendingRemoteSync"`
	Error             string `json:"error,omitempty"`
}

type cartView struct {
	SessionToken string     `json:"sessionToken"`
	OwnerKey     string     `json:"ownerKey"`
	State        State      `json:"state"`
	Items        []itemView `json:"items"`
	ItemCount    int        `json:"itemCount"`
	Pricing      any        `json:"pricing"`
	Currency     string     `json:"currency"`
	Sync         syncView   `json:"sync"`
}

// SessionToken returns the token sent by the client, cookie first.
func (h *Handler) SessionToken(r *http.Request) string {
	if c, err := r.Cookie(h.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

// Bind resolves the request's engine and echoes the session token back to the
// client. The returned warning is a persistence failure that left the cart
// usable. ok is false when an error response was already written.
func (h *Handler) Bind(w http.ResponseWriter, r *http.Request) (*Engine, *PersistenceError, bool) {
	if h.cfg.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart sessions not configured", nil)
		return nil, nil, false
	}
	var principal *common.Principal
	if p, ok := common.PrincipalFrom(r.Context()); ok {
		principal = &p
	}
	eng, err := h.cfg.Sessions.Resolve(r.Context(), h.SessionToken(r), principal)
	var warning *PersistenceError
	if err != nil && !errors.As(err, &warning) {
		h.cfg.Logger.Error().Err(err).Msg("cart_session_resolve_failed")
		common.JSONError(w, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "cart session unavailable", nil)
		return nil, nil, false
	}
	h.setToken(w, eng.GuestToken())
	return eng, warning, true
}

// Get handles GET /v1/cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	eng, warning, ok := h.Bind(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, eng, eng.Cart(), warning)
}

// AddItem handles POST /v1/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteBadRequest(w, err)
		return
	}
	price, ok := h.unitPrice(w, r, req)
	if !ok {
		return
	}
	h.mutate(w, r, func(eng *Engine) (Cart, error) {
		return eng.AddLine(req.ProductID, price, req.Quantity)
	})
}

// SetItemQuantity handles PUT /v1/cart/items/{productId}. Zero removes the line.
func (h *Handler) SetItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteBadRequest(w, err)
		return
	}
	productID := chi.URLParam(r, "productId")
	h.mutate(w, r, func(eng *Engine) (Cart, error) {
		return eng.SetQuantity(productID, req.Quantity)
	})
}

// RemoveItem handles DELETE /v1/cart/items/{productId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	h.mutate(w, r, func(eng *Engine) (Cart, error) {
		return eng.RemoveLine(productID)
	})
}

// Clear handles DELETE /v1/cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(eng *Engine) (Cart, error) {
		return eng.Clear()
	})
}

// mutate applies fn to the session's engine. An engine closed between Bind
// and fn by a concurrent logout or sweep is resolved again once.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(*Engine) (Cart, error)) {
	for attempt := 0; ; attempt++ {
		eng, warning, ok := h.Bind(w, r)
		if !ok {
			return
		}
		c, err := fn(eng)
		switch {
		case err == nil:
			h.respond(w, r, http.StatusOK, eng, c, warning)
		case errors.Is(err, ErrInvalidInput):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		case errors.Is(err, ErrClosed) && attempt == 0:
			continue
		default:
			h.cfg.Logger.Warn().Err(err).Msg("cart_mutation_failed")
			common.JSONError(w, http.StatusConflict, "SESSION_CHANGED", "cart session changed, retry the request", nil)
		}
		return
	}
}

// Logout handles POST /v1/session/logout. The session cookie is expired.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart sessions not configured", nil)
		return
	}
	if token := h.SessionToken(r); token != "" {
		if err := h.cfg.Sessions.Logout(r.Context(), token); err != nil {
			h.cfg.Logger.Warn().Err(err).Msg("cart_session_logout_failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unitPrice(w http.ResponseWriter, r *http.Request, req addItemRequest) (decimal.Decimal, bool) {
	if h.cfg.Catalog == nil {
		if req.UnitPrice == nil || req.UnitPrice.IsNegative() {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "unitPrice is required", map[string]string{"unitPrice": "required"})
			return decimal.Zero, false
		}
		return *req.UnitPrice, true
	}
	info, err := h.cfg.Catalog.Lookup(r.Context(), req.ProductID)
	if err != nil {
		if errors.Is(err, ErrUnknownProduct) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return decimal.Zero, false
		}
		h.cfg.Logger.Error().Err(err).Str("product_id", req.ProductID).Msg("cart_price_lookup_failed")
		common.JSONError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "product price unavailable", nil)
		return decimal.Zero, false
	}
	return info.Price, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, eng *Engine, c Cart, warning *PersistenceError) {
	common.JSON(w, status, map[string]any{"data": h.view(r.Context(), eng, c, warning)})
}

func (h *Handler) view(ctx context.Context, eng *Engine, c Cart, warning *PersistenceError) cartView {
	items := make([]itemView, 0, len(c.Lines))
	for _, l := range c.Lines {
		item := itemView{
			ProductID: l.ProductID,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Quantity:  l.Quantity,
			Amount:    l.Amount().StringFixed(2),
		}
		if h.cfg.Catalog != nil {
			if info, err := h.cfg.Catalog.Lookup(ctx, l.ProductID); err == nil {
				item.Name = info.Name
				item.ImageURL = info.ImageURL
			}
		}
		items = append(items, item)
	}
	snap := pricing.Compute(c.Lines, h.cfg.Policy)
	status := eng.SyncStatus()
	sv := syncView{
		Seq:               status.Seq,
		PersistedSeq:      status.PersistedSeq,
		PendingRemoteSync: status.PendingRemoteSync,
	}
	if warning == nil {
		warning = status.Err
	}
	if warning != nil {
		sv.Error = warning.Error()
	}
	return cartView{
		SessionToken: eng.GuestToken(),
		OwnerKey:     c.OwnerKey,
		State:        c.State,
		Items:        items,
		ItemCount:    pricing.ItemCount(c.Lines),
		Pricing: map[string]string{
			"subtotal": snap.Subtotal.StringFixed(2),
			"shipping": snap.ShippingFee.StringFixed(2),
			"tax":      snap.Tax.StringFixed(2),
			"total":    snap.Total.StringFixed(2),
		},
		Currency: h.cfg.Currency,
		Sync:     sv,
	}
}

func (h *Handler) setToken(w http.ResponseWriter, token string) {
	w.Header().Set(SessionHeader, token)
	cookie := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.CookieTTL > 0 {
		cookie.MaxAge = int(h.cfg.CookieTTL.Seconds())
	}
	http.SetCookie(w, cookie)
}
