package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/toko-cart/internal/common"
)

// Config describes how to derive a rate limit key and the allowed rate.
type Config struct {
	Key  func(*http.Request) string
	Rate limiter.Rate
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	limiter *limiter.Limiter
	key     func(*http.Request) string
	OnError func(error)
}

// NewRedisStore wires a limiter store backed by Redis.
func NewRedisStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// ParseRate parses rates such as "120-M" or "10-S".
func ParseRate(formatted string) (limiter.Rate, error) {
	return limiter.NewRateFromFormatted(formatted)
}

// NewHandler builds a rate limit middleware over store.
func NewHandler(store limiter.Store, cfg Config) Handler {
	h := Handler{key: cfg.Key}
	if store != nil && cfg.Rate.Limit > 0 && cfg.Rate.Period > 0 {
		h.limiter = limiter.New(store, cfg.Rate)
	}
	return h
}

// ByPrincipalOrIP keys authenticated callers by principal id and everyone else
// by client address.
func ByPrincipalOrIP(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		if uid, ok := common.UserID(r.Context()); ok {
			return scope + ":user:" + uid
		}
		return scope + ":ip:" + common.ClientIP(r)
	}
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.key == nil || h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		lctx, err := h.limiter.Get(r.Context(), h.key(r))
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			retryAfter := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
