package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := docstore.NewMemory()
	notifier := &captureNotifier{}
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
		Now:       func() time.Time { return fixed },
	}

	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicOrderCreated, "order-1", map[string]any{"orderId": "order-1"})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.Equal(t, fixed, event.OccurredAt)
	require.JSONEq(t, `{"orderId":"order-1"}`, string(event.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	docs, err := store.List(ctx, docstore.CollectionEvents, docstore.Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	var stored struct {
		Topic   string `bson:"topic"`
		Payload string `bson:"payload"`
	}
	require.NoError(t, docs[0].Decode(&stored))
	require.Equal(t, events.TopicOrderCreated, stored.Topic)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored.Payload), &decoded))
	require.Equal(t, "order-1", decoded["orderId"])
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: docstore.NewMemory()}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", "order-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicOrderCreated, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicOrderCreated, "order-1", "not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(ctx, events.TopicOrderCreated, "order-1", nil)
	require.Error(t, err)
}

func TestEmitKeepsEventWhenNotifierFails(t *testing.T) {
	store := docstore.NewMemory()
	notifier := &captureNotifier{err: errors.New("queue down")}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{nil, notifier}}

	event, err := bus.Emit(context.Background(), events.TopicPaymentFailed, "order-2", nil)
	require.Error(t, err)
	require.NotEmpty(t, event.ID)
	require.JSONEq(t, `{}`, string(event.Payload))
	require.Equal(t, 1, store.Writes())
}

func TestNotifiable(t *testing.T) {
	require.True(t, events.Notifiable(events.TopicPaymentCompleted))
	require.False(t, events.Notifiable("cart.updated"))
}
