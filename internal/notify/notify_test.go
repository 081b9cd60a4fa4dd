package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/events"
	"github.com/noah-isme/toko-cart/internal/lock"
	"github.com/noah-isme/toko-cart/internal/notify"
	"github.com/noah-isme/toko-cart/internal/queue"
)

func orderEvent(id, topic, payload string) events.Event {
	return events.Event{
		ID:          id,
		Topic:       topic,
		AggregateID: "order-1",
		Payload:     json.RawMessage(payload),
		OccurredAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func notifyTask(t *testing.T, ev events.Event) *asynq.Task {
	t.Helper()
	task, err := queue.NewNotifyTask(ev)
	require.NoError(t, err)
	return task
}

func TestComposeChoosesChannel(t *testing.T) {
	n, err := notify.Compose(orderEvent("evt-1", events.TopicOrderCreated, `{"orderId":"order-1","total":"185.70","email":"asha@example.com"}`))
	require.NoError(t, err)
	require.Equal(t, notify.ChannelEmail, n.Type)
	require.Equal(t, "asha@example.com", n.Recipient)
	require.Equal(t, "order:order-1", n.Audience)
	require.Equal(t, "Order placed", n.Title)
	require.Contains(t, n.Message, "185.70")
	require.Equal(t, notify.SentBySystem, n.SentBy)

	n, err = notify.Compose(orderEvent("evt-2", events.TopicOrderStatusChanged, `{"orderId":"order-1","to":"shipped"}`))
	require.NoError(t, err)
	require.Equal(t, notify.ChannelPush, n.Type)
	require.Equal(t, "Your order order-1 is now shipped.", n.Message)

	_, err = notify.Compose(orderEvent("evt-3", events.TopicPaymentFailed, `{`))
	require.Error(t, err)
}

func TestConsumerWritesOneNotificationPerEvent(t *testing.T) {
	docs := docstore.NewMemory()
	consumer := &notify.Consumer{Store: notify.NewStore(docs), Logger: zerolog.Nop()}
	task := notifyTask(t, orderEvent("evt-1", events.TopicPaymentCompleted, `{"orderId":"order-1","transactionId":"PAY0123456789"}`))

	ctx := context.Background()
	require.NoError(t, consumer.HandleNotify(ctx, task))
	require.NoError(t, consumer.HandleNotify(ctx, task))

	items, err := consumer.Store.List(ctx, "", common.Pagination{Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "evt-1", items[0].ID)
	require.Equal(t, "sent", items[0].Status)
	require.Contains(t, items[0].Message, "PAY0123456789")
}

func TestConsumerSkipsRetryForMalformedTasks(t *testing.T) {
	consumer := &notify.Consumer{Store: notify.NewStore(docstore.NewMemory()), Logger: zerolog.Nop()}
	err := consumer.HandleNotify(context.Background(), asynq.NewTask(queue.TaskNotifyOrderEvent, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var nilConsumer *notify.Consumer
	require.Error(t, nilConsumer.HandleNotify(context.Background(), nil))
}

func TestConsumerRetriesStoreFailures(t *testing.T) {
	docs := docstore.NewMemory()
	docs.FailWrites(errors.New("mongo down"))
	consumer := &notify.Consumer{Store: notify.NewStore(docs), Logger: zerolog.Nop()}
	err := consumer.HandleNotify(context.Background(), notifyTask(t, orderEvent("evt-1", events.TopicOrderCreated, `{}`)))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestConsumerUsesLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, Prefix: "test:", TTL: time.Second, Wait: 50 * time.Millisecond, RetryBackoff: 5 * time.Millisecond}
	consumer := &notify.Consumer{Store: notify.NewStore(docstore.NewMemory()), Locker: locker, Logger: zerolog.Nop()}
	task := notifyTask(t, orderEvent("evt-9", events.TopicOrderCreated, `{}`))

	ctx := context.Background()
	err := locker.WithLock(ctx, "notify:evt-9", func(ctx context.Context) error {
		return consumer.HandleNotify(ctx, task)
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, consumer.HandleNotify(ctx, task))
}

func TestConsumerRegister(t *testing.T) {
	mux := asynq.NewServeMux()
	consumer := &notify.Consumer{Store: notify.NewStore(docstore.NewMemory()), Logger: zerolog.Nop()}
	consumer.Register(mux)

	task := notifyTask(t, orderEvent("evt-1", events.TopicOrderCreated, `{}`))
	require.NoError(t, mux.ProcessTask(context.Background(), task))
}

func TestAdminBroadcastAndList(t *testing.T) {
	store := notify.NewStore(docstore.NewMemory())
	h := &notify.AdminHandler{Store: store, Logger: zerolog.Nop()}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/notifications", strings.NewReader(body))
		req = req.WithContext(common.WithPrincipal(req.Context(), common.Principal{ID: "admin-1", Email: "ops@example.com", Role: common.RoleAdmin}))
		rec := httptest.NewRecorder()
		h.Broadcast(rec, req)
		return rec
	}

	rec := post(`{"type":"push","title":"Diwali sale","message":"20% off sweets"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data notify.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)
	require.Equal(t, notify.AudienceAll, created.Data.Audience)
	require.Equal(t, "ops@example.com", created.Data.SentBy)

	rec = post(`{"type":"fax","title":"x","message":"y"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	_, err := store.Put(context.Background(), "evt-1", notify.Notification{Type: notify.ChannelPush, Audience: "order:order-1", Title: "t", Message: "m", SentBy: notify.SentBySystem})
	require.NoError(t, err)

	list := func(query string) []notify.Notification {
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/notifications"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Data []notify.Notification `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out.Data
	}
	require.Len(t, list(""), 2)
	only := list("?audience=all")
	require.Len(t, only, 1)
	require.Equal(t, "Diwali sale", only[0].Title)
}
