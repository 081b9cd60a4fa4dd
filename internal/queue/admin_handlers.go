package queue

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/common"
)

// AdminHandler exposes queue statistics and replay of archived tasks.
type AdminHandler struct {
	Inspector *asynq.Inspector
	Queue     string
	PageSize  int
	Logger    zerolog.Logger
}

type archivedItem struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Retried      int       `json:"retried"`
	LastError    string    `json:"lastError,omitempty"`
	LastFailedAt time.Time `json:"lastFailedAt"`
	Payload      string    `json:"payload"`
}

// Stats returns the queue counters.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_DISABLED", "queue is not enabled", nil)
		return
	}
	info, err := h.Inspector.GetQueueInfo(h.queue())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to read queue info", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"queue":     info.Queue,
			"pending":   info.Pending,
			"active":    info.Active,
			"scheduled": info.Scheduled,
			"retry":     info.Retry,
			"archived":  info.Archived,
			"processed": info.Processed,
			"failed":    info.Failed,
			"paused":    info.Paused,
		},
	})
}

// ListArchived returns tasks that exhausted their retries.
func (h *AdminHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_DISABLED", "queue is not enabled", nil)
		return
	}
	page := common.ParsePagination(r, h.pageSize())
	tasks, err := h.Inspector.ListArchivedTasks(h.queue(), asynq.PageSize(page.PerPage), asynq.Page(page.Page))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list archived tasks", nil)
		return
	}
	items := make([]archivedItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, archivedItem{
			ID:           t.ID,
			Type:         t.Type,
			Retried:      t.Retried,
			LastError:    t.LastErr,
			LastFailedAt: t.LastFailedAt,
			Payload:      string(t.Payload),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

// RetryArchived moves an archived task back to pending.
func (h *AdminHandler) RetryArchived(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_DISABLED", "queue is not enabled", nil)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Inspector.RunTask(h.queue(), id); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "task not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to retry task", nil)
		return
	}
	h.Logger.Info().Str("task_id", id).Str("queue", h.queue()).Msg("queue_task_replayed")
	w.WriteHeader(http.StatusAccepted)
}

func (h *AdminHandler) queue() string {
	if h.Queue == "" {
		return DefaultQueue
	}
	return h.Queue
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 20
	}
	return h.PageSize
}
