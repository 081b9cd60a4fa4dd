package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/docstore"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness probe. Shutdown clears it so load balancers
// drain the instance before the listener closes.
func SetReady(v bool) {
	ready.Store(v)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDocStore(ctx context.Context) error
	PingRedis(ctx context.Context) error
}

// Probes checks the document store and Redis.
type Probes struct {
	Docs  docstore.Store
	Redis *redis.Client
}

// PingDocStore pings the document store.
func (p Probes) PingDocStore(ctx context.Context) error {
	if p.Docs == nil {
		return errors.New("document store not configured")
	}
	return p.Docs.Ping(ctx)
}

// PingRedis pings Redis.
func (p Probes) PingRedis(ctx context.Context) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DocsTimeout  time.Duration
	RedisTimeout time.Duration
	// Breaker reports the document store breaker state, if any.
	Breaker func() string
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes. An open breaker does
// not fail readiness: carts keep working against the local cache.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	if h.Checker == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "dependencies unavailable", nil)
		return
	}
	docsStatus := probe(r.Context(), h.timeout(h.DocsTimeout, 500*time.Millisecond), h.Checker.PingDocStore)
	redisStatus := probe(r.Context(), h.timeout(h.RedisTimeout, 300*time.Millisecond), h.Checker.PingRedis)
	status := map[string]string{
		"docstore": docsStatus,
		"redis":    redisStatus,
	}
	if h.Breaker != nil {
		status["docstoreBreaker"] = h.Breaker()
	}
	code := http.StatusOK
	if docsStatus != "ok" || redisStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func probe(ctx context.Context, timeout time.Duration, fn func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) timeout(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
