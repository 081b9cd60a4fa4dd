package queue

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-cart/internal/events"
)

const (
	// DefaultQueue is the asynq queue used when none is configured.
	DefaultQueue = "default"
	// TaskNotifyOrderEvent turns an order event into a customer notification.
	TaskNotifyOrderEvent = "notify:order_event"
)

// NotifyPayload is the payload of a TaskNotifyOrderEvent task.
type NotifyPayload struct {
	Event events.Event `json:"event"`
}

// NewNotifyTask builds a notification task for ev.
func NewNotifyTask(ev events.Event) (*asynq.Task, error) {
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Topic) == "" {
		return nil, errors.New("queue: event id and topic are required")
	}
	body, err := json.Marshal(NotifyPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyOrderEvent, body), nil
}

// ParseNotifyTask decodes the payload of a notification task.
func ParseNotifyTask(task *asynq.Task) (NotifyPayload, error) {
	var payload NotifyPayload
	if task == nil {
		return payload, errors.New("queue: task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.Event.ID == "" {
		return payload, errors.New("queue: payload missing event id")
	}
	return payload, nil
}
