package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/lock"
	"github.com/noah-isme/toko-cart/internal/obs"
	"github.com/noah-isme/toko-cart/internal/queue"
)

// Consumer handles notification tasks in the worker process.
type Consumer struct {
	Store  *Store
	Locker lock.Guard
	Logger zerolog.Logger
}

// Register binds the consumer's handlers to mux.
func (c *Consumer) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskNotifyOrderEvent, c.HandleNotify)
}

// HandleNotify writes the notification for the task's event. The document is
// keyed by event id so a redelivered task overwrites rather than duplicates.
func (c *Consumer) HandleNotify(ctx context.Context, task *asynq.Task) error {
	if c == nil || c.Store == nil {
		return errors.New("notify consumer: store not configured")
	}
	payload, err := queue.ParseNotifyTask(task)
	if err != nil {
		// malformed payloads never succeed on retry
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	n, err := Compose(payload.Event)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	write := func(ctx context.Context) error {
		_, err := c.Store.Put(ctx, payload.Event.ID, n)
		return err
	}
	if c.Locker != nil {
		err = c.Locker.WithLock(ctx, "notify:"+payload.Event.ID, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		countNotification(payload.Event.Topic, "error")
		c.Logger.Warn().Err(err).Str("event_id", payload.Event.ID).Str("topic", payload.Event.Topic).Msg("notification_failed")
		return err
	}
	countNotification(payload.Event.Topic, "sent")
	c.Logger.Info().
		Str("event_id", payload.Event.ID).
		Str("topic", payload.Event.Topic).
		Str("order_id", payload.Event.AggregateID).
		Str("channel", string(n.Type)).
		Msg("notification_sent")
	return nil
}

func countNotification(topic, result string) {
	if obs.NotificationsTotal != nil {
		obs.NotificationsTotal.WithLabelValues(topic, result).Inc()
	}
}
