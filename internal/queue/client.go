package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-cart/internal/events"
)

// Config configures the asynq client and server.
type Config struct {
	Enabled     bool
	RedisURL    string
	Queue       string
	Concurrency int
	MaxRetry    int
	// Retention keeps completed task ids so re-emitted events are deduplicated.
	Retention time.Duration
}

// Client wraps the asynq client. A disabled client accepts and drops tasks.
type Client struct {
	client    *asynq.Client
	queue     string
	maxRetry  int
	retention time.Duration
}

// NewClient creates a queue client.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{queue: queueName(cfg), maxRetry: cfg.MaxRetry, retention: cfg.Retention}
	if !cfg.Enabled {
		return c, nil
	}
	opt, err := RedisOpt(cfg)
	if err != nil {
		return nil, err
	}
	c.client = asynq.NewClient(opt)
	return c, nil
}

// Enabled reports whether tasks reach Redis.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// EnqueueNotify schedules the notification task for ev. The event id doubles
// as the task id, so an event is queued at most once.
func (c *Client) EnqueueNotify(ctx context.Context, ev events.Event) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewNotifyTask(ev)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, c.options(ev.ID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		countEnqueue(TaskNotifyOrderEvent, "duplicate")
		return nil
	}
	if err != nil {
		countEnqueue(TaskNotifyOrderEvent, "error")
		return err
	}
	countEnqueue(TaskNotifyOrderEvent, "ok")
	return nil
}

func (c *Client) options(taskID string) []asynq.Option {
	opts := []asynq.Option{asynq.Queue(c.queue), asynq.TaskID(taskID)}
	if c.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(c.maxRetry))
	}
	if c.retention > 0 {
		opts = append(opts, asynq.Retention(c.retention))
	}
	return opts
}

// Notifier adapts the client to events.Notifier, forwarding notifiable topics.
type Notifier struct {
	Client *Client
}

// Notify implements events.Notifier.
func (n Notifier) Notify(ctx context.Context, ev events.Event) error {
	if !events.Notifiable(ev.Topic) {
		return nil
	}
	return n.Client.EnqueueNotify(ctx, ev)
}

// BuildServerConfig returns the Redis connection and server settings for the worker.
func BuildServerConfig(cfg Config) (asynq.RedisConnOpt, asynq.Config, error) {
	opt, err := RedisOpt(cfg)
	if err != nil {
		return nil, asynq.Config{}, err
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName(cfg): 1},
	}, nil
}

// RedisOpt parses the configured Redis URL.
func RedisOpt(cfg Config) (asynq.RedisConnOpt, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, errors.New("queue: redis url is required")
	}
	return asynq.ParseRedisURI(cfg.RedisURL)
}

func queueName(cfg Config) string {
	if q := strings.TrimSpace(cfg.Queue); q != "" {
		return q
	}
	return DefaultQueue
}
