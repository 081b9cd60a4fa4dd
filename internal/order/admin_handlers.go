package order

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-cart/internal/common"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Service *Service
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// List returns all orders, optionally filtered by ?status=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	var status Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := ParseStatus(raw)
		if !ok {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", nil)
			return
		}
		status = parsed
	}
	page := common.ParsePagination(r, 50)
	records, err := h.Service.ListAll(r.Context(), status, page)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	data := make([]any, 0, len(records))
	for _, rec := range records {
		data = append(data, View(rec, true))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": page})
}

// PatchStatus updates the order status with state-machine validation.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if req.Status == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status is required", nil)
		return
	}
	target, ok := ParseStatus(req.Status)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", nil)
		return
	}
	rec, err := h.Service.Transition(r.Context(), chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, err, "failed to update order status")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": View(rec, false)})
}
