package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/health"
)

type stubChecker struct {
	docsErr  error
	redisErr error
}

func (s stubChecker) PingDocStore(context.Context) error { return s.docsErr }
func (s stubChecker) PingRedis(context.Context) error    { return s.redisErr }

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReady(t *testing.T) {
	code, status := ready(t, health.Handler{Checker: stubChecker{}, Breaker: func() string { return "closed" }})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", status["docstore"])
	require.Equal(t, "ok", status["redis"])
	require.Equal(t, "closed", status["docstoreBreaker"])

	code, status = ready(t, health.Handler{Checker: stubChecker{docsErr: errors.New("mongo down")}, DocsTimeout: 10 * time.Millisecond})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "mongo down", status["docstore"])
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Checker: stubChecker{}}
	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })

	code, status := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting down", status["status"])

	health.SetReady(true)
	code, _ = ready(t, h)
	require.Equal(t, http.StatusOK, code)
}

func TestProbes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := health.Probes{Docs: docstore.NewMemory(), Redis: client}
	require.NoError(t, p.PingDocStore(context.Background()))
	require.NoError(t, p.PingRedis(context.Background()))

	require.Error(t, health.Probes{}.PingDocStore(context.Background()))
	require.Error(t, health.Probes{}.PingRedis(context.Background()))
}
