package notify

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/common"
)

// AdminHandler exposes the notification center to administrators.
type AdminHandler struct {
	Store  *Store
	Logger zerolog.Logger
}

type broadcastRequest struct {
	Type     Channel `json:"type" validate:"required,oneof=push sms email"`
	Audience string  `json:"audience" validate:"omitempty,max=64"`
	Title    string  `json:"title" validate:"required,max=120"`
	Message  string  `json:"message" validate:"required,max=2000"`
}

// List returns sent notifications, newest first. ?audience= narrows the result.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "notification store unavailable", nil)
		return
	}
	page := common.ParsePagination(r, 20)
	items, err := h.Store.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("audience")), page)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list notifications", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

// Broadcast records a notification written by an administrator.
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "notification store unavailable", nil)
		return
	}
	var req broadcastRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteBadRequest(w, err)
		return
	}
	audience := strings.TrimSpace(req.Audience)
	if audience == "" {
		audience = AudienceAll
	}
	sentBy := "admin"
	if p, ok := common.PrincipalFrom(r.Context()); ok {
		sentBy = p.ID
		if p.Email != "" {
			sentBy = p.Email
		}
	}
	n, err := h.Store.Add(r.Context(), Notification{
		Type:     req.Type,
		Audience: audience,
		Title:    strings.TrimSpace(req.Title),
		Message:  strings.TrimSpace(req.Message),
		SentBy:   sentBy,
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to store notification", nil)
		return
	}
	h.Logger.Info().Str("notification_id", n.ID).Str("audience", n.Audience).Str("type", string(n.Type)).Msg("notification_broadcast")
	common.JSON(w, http.StatusCreated, map[string]any{"data": n})
}
