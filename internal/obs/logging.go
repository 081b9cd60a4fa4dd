package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-cart/internal/common"
)

// NewLogger configures a zerolog logger using the provided format and level.
// Format "console" (or "text") switches to human readable output.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// RequestLogger records one structured line per request and makes a
// request-scoped logger available through hlog.FromRequest.
type RequestLogger struct {
	Logger zerolog.Logger
	// SessionHeader names the cart session header; its value is logged in
	// shortened form to correlate requests of one cart.
	SessionHeader string
}

// Middleware implements chi middleware for structured request logs.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		evt := hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("route", RoutePattern(r)).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", size).
			Int64("duration_ms", duration.Milliseconds())
		if uid, ok := common.UserID(r.Context()); ok && uid != "" {
			evt = evt.Str("user_id", uid)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Msg("http_request")
	})
	enrich := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context())
			logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
				if id := middleware.GetReqID(r.Context()); id != "" {
					c = c.Str("request_id", id)
				}
				if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
					c = c.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
				}
				if l.SessionHeader != "" {
					if token := r.Header.Get(l.SessionHeader); len(token) >= 8 {
						c = c.Str("cart_session", token[:8])
					}
				}
				return c.Str("remote_ip", common.ClientIP(r))
			})
			next.ServeHTTP(w, r)
		})
	}
	return hlog.NewHandler(l.Logger)(enrich(access(next)))
}
