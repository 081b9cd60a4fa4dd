package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/app"
	"github.com/noah-isme/toko-cart/internal/auth"
	"github.com/noah-isme/toko-cart/internal/cart"
	"github.com/noah-isme/toko-cart/internal/catalog"
	"github.com/noah-isme/toko-cart/internal/checkout"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/config"
	"github.com/noah-isme/toko-cart/internal/health"
	"github.com/noah-isme/toko-cart/internal/notify"
	"github.com/noah-isme/toko-cart/internal/obs"
	"github.com/noah-isme/toko-cart/internal/order"
	"github.com/noah-isme/toko-cart/internal/queue"
	"github.com/noah-isme/toko-cart/internal/ratelimit"
	"github.com/noah-isme/toko-cart/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdownTracer = func(context.Context) error { return nil }
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Build(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}

	inspector, err := deps.Inspector()
	if err != nil {
		logger.Error().Err(err).Msg("initialise queue inspector")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(deps, inspector, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweepSessions(ctx, deps, logger)

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("server shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("close dependencies")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown tracer")
	}
}

// sweepSessions drops cart engines idle for longer than the configured TTL.
func sweepSessions(ctx context.Context, deps *app.Dependencies, logger zerolog.Logger) {
	interval := deps.Config.CartSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := deps.Sessions.Sweep(ctx, deps.Config.CartSessionIdleTTL); n > 0 {
				logger.Debug().Int("swept", n).Int("active", deps.Sessions.Len()).Msg("cart_sessions_swept")
			}
		}
	}
}

func newRouter(deps *app.Dependencies, inspector *asynq.Inspector, logger zerolog.Logger) http.Handler {
	cfg := deps.Config

	cartHandler := cart.NewHandler(cart.HandlerConfig{
		Sessions:     deps.Sessions,
		Catalog:      app.CatalogPrices{Service: deps.Catalog},
		Policy:       cfg.Pricing,
		Currency:     cfg.Currency,
		CookieName:   cfg.CartSessionCookie,
		CookieTTL:    cfg.CartGuestTTL,
		SecureCookie: cfg.CookieSecure,
		Logger:       logger.With().Str("component", "cart").Logger(),
	})
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: deps.Catalog})
	checkoutHandler := &checkout.Handler{Svc: deps.Checkout, Carts: cartHandler}
	orderHandler := &order.Handler{Service: deps.Orders, Owner: app.OrderOwner(cartHandler)}
	orderAdmin := &order.AdminHandler{Service: deps.Orders}
	notifyAdmin := &notify.AdminHandler{Store: deps.Notices, Logger: logger}
	queueAdmin := &queue.AdminHandler{Inspector: inspector, Queue: cfg.QueueName, PageSize: 50, Logger: logger}
	authMiddleware := auth.Middleware{Verifier: deps.Verifier, AccessCookie: cfg.AccessCookie, Logger: logger}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Scope: app.OrderOwner(cartHandler)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.Tracing(cfg.ServiceName))
	r.Use(obs.RequestLogger{Logger: logger, SessionHeader: cart.SessionHeader}.Middleware)
	r.Use(middleware.Recoverer)
	if cfg.MetricsEnabled {
		metrics := obs.NewHTTPMetrics("toko", obs.ParseBucketsCSV(cfg.MetricsBuckets), deps.Registry)
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	}
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins, cart.SessionHeader))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer(), promhttp.HandlerOpts{}))
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{Docs: deps.Docs, Redis: deps.Redis},
		DocsTimeout:  500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
		Breaker:      deps.Docs.State,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	limit := ratelimitMiddleware(deps, logger)

	r.Route("/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)
		v.Use(limit)
		v.Use(security.SessionCSRF{Cookie: cfg.CartSessionCookie, Header: cart.SessionHeader}.Middleware)

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{id}", catalogHandler.Product)

		v.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Delete("/", cartHandler.Clear)
			c.Post("/items", cartHandler.AddItem)
			c.Put("/items/{productId}", cartHandler.SetItemQuantity)
			c.Delete("/items/{productId}", cartHandler.RemoveItem)
		})
		v.Post("/session/logout", cartHandler.Logout)

		v.With(idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
		v.Get("/orders", orderHandler.List)
		v.Get("/orders/{id}", orderHandler.Get)
		v.With(idem.Middleware).Post("/orders/{id}/payment", checkoutHandler.SimulatePayment)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAdmin)
			admin.Get("/orders", orderAdmin.List)
			admin.Patch("/orders/{id}/status", orderAdmin.PatchStatus)
			admin.Get("/notifications", notifyAdmin.List)
			admin.Post("/notifications", notifyAdmin.Broadcast)
			admin.Get("/queue", queueAdmin.Stats)
			admin.Get("/queue/archived", queueAdmin.ListArchived)
			admin.Post("/queue/archived/{id}/retry", queueAdmin.RetryArchived)
		})
	})

	return r
}

func ratelimitMiddleware(deps *app.Dependencies, logger zerolog.Logger) func(http.Handler) http.Handler {
	rate, err := ratelimit.ParseRate(deps.Config.RateLimit)
	if err != nil {
		logger.Error().Err(err).Str("rate", deps.Config.RateLimit).Msg("invalid rate limit, limiter disabled")
		return func(next http.Handler) http.Handler { return next }
	}
	h := ratelimit.NewHandler(deps.Limiter, ratelimit.Config{
		Key:  ratelimit.ByPrincipalOrIP("api"),
		Rate: rate,
	})
	h.OnError = func(err error) {
		logger.Warn().Err(err).Msg("rate_limit_store_failed")
	}
	return h.Middleware
}
