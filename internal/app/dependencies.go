package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-cart/internal/auth"
	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/cart"
	"github.com/noah-isme/toko-cart/internal/catalog"
	"github.com/noah-isme/toko-cart/internal/checkout"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/config"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/events"
	"github.com/noah-isme/toko-cart/internal/lock"
	"github.com/noah-isme/toko-cart/internal/notify"
	"github.com/noah-isme/toko-cart/internal/obs"
	"github.com/noah-isme/toko-cart/internal/order"
	"github.com/noah-isme/toko-cart/internal/queue"
	"github.com/noah-isme/toko-cart/internal/ratelimit"
	"github.com/noah-isme/toko-cart/internal/session"
)

// Dependencies enumerates the services shared by the API and worker processes.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry

	Docs    *docstore.Guarded
	Redis   *redis.Client
	Locker  lock.Locker
	Limiter limiter.Store

	Sessions *session.Manager
	Catalog  *catalog.Service
	Orders   *order.Service
	Events   *events.Bus
	Checkout *checkout.Service
	Notices  *notify.Store
	Queue    *queue.Client
	Verifier *auth.Verifier

	closers []func(context.Context) error
}

// QueueConfig maps application configuration onto the task queue settings.
func QueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		Enabled:     cfg.QueueEnabled,
		RedisURL:    cfg.RedisURL,
		Queue:       cfg.QueueName,
		Concurrency: cfg.QueueConcurrency,
		MaxRetry:    cfg.QueueMaxRetry,
		Retention:   cfg.QueueRetention,
	}
}

// NewRedis opens an instrumented Redis client from a redis:// URL.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis tracing: %w", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewDocStore connects to MongoDB and wraps it with a circuit breaker whose
// state is exported as a metric.
func NewDocStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*docstore.Guarded, func(context.Context) error, error) {
	db, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	mongoStore := docstore.NewMongo(db)
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("mongo_indexes_failed")
	}
	guarded := docstore.NewGuarded(mongoStore, docstore.BreakerSettings{
		Name:         "docstore",
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
		OpenFor:      cfg.BreakerOpenFor,
		OnStateChange: func(name, from, to string) {
			obs.SetBreakerState(name, to)
			logger.Warn().Str("breaker", name).Str("from", from).Str("to", to).Msg("breaker_state_changed")
		},
	})
	obs.SetBreakerState("docstore", guarded.State())
	return guarded, db.Client().Disconnect, nil
}

// Build connects the backing stores and constructs every service.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	obs.MustRegisterDomainMetrics("toko", deps.Registry)

	docs, disconnect, err := NewDocStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Docs = docs
	deps.closers = append(deps.closers, disconnect)

	rdb, err := NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		_ = deps.Close(context.Background())
		return nil, err
	}
	deps.Redis = rdb
	deps.closers = append(deps.closers, func(context.Context) error { return rdb.Close() })

	if err := deps.wire(cfg, logger); err != nil {
		_ = deps.Close(context.Background())
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) wire(cfg *config.Config, logger zerolog.Logger) error {
	d.Locker = lock.Locker{
		R:            d.Redis,
		Prefix:       "lock:",
		TTL:          cfg.LockTTL,
		Wait:         cfg.LockWait,
		RetryBackoff: cfg.LockRetryBackoff,
	}

	sessions, err := session.NewManager(session.Config{
		Remote:   cart.NewDocumentRemote(d.Docs),
		Local:    cache.NewRedis(d.Redis, cfg.CartGuestTTL),
		Guard:    d.Locker,
		Debounce: cfg.CartPersistDebounce,
		Logger:   logger.With().Str("component", "cart").Logger(),
	})
	if err != nil {
		return err
	}
	d.Sessions = sessions
	d.closers = append(d.closers, sessions.Close)

	d.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Docs:   d.Docs,
		Cache:  cache.NewJSON(d.Redis, cfg.CatalogCacheTTL),
		Logger: logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return err
	}

	d.Queue, err = queue.NewClient(QueueConfig(cfg))
	if err != nil {
		return err
	}
	d.closers = append(d.closers, func(context.Context) error { return d.Queue.Close() })

	d.Events = &events.Bus{Store: d.Docs}
	if d.Queue.Enabled() {
		d.Events.Notifiers = append(d.Events.Notifiers, queue.Notifier{Client: d.Queue})
	}

	d.Orders = order.NewService(order.NewStore(d.Docs), d.Events, logger.With().Str("component", "order").Logger())
	d.Checkout = &checkout.Service{
		Orders:     d.Orders,
		Events:     d.Events,
		Policy:     cfg.Pricing,
		Currency:   cfg.Currency,
		AllowGuest: cfg.AllowGuestCheckout,
		Logger:     logger.With().Str("component", "checkout").Logger(),
	}
	d.Notices = notify.NewStore(d.Docs)

	d.Limiter, err = ratelimit.NewRedisStore(d.Redis, "ratelimit")
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}

	d.Verifier, err = auth.NewVerifier(auth.VerifierConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
	return err
}

// Gatherer merges the service registry with the default one, which carries
// the runtime collectors and the queue metrics.
func (d *Dependencies) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{d.Registry, prometheus.DefaultGatherer}
}

// Inspector returns an asynq inspector when the queue is enabled.
func (d *Dependencies) Inspector() (*asynq.Inspector, error) {
	if !d.Config.QueueEnabled {
		return nil, nil
	}
	opt, err := queue.RedisOpt(QueueConfig(d.Config))
	if err != nil {
		return nil, err
	}
	inspector := asynq.NewInspector(opt)
	d.closers = append(d.closers, func(context.Context) error { return inspector.Close() })
	return inspector, nil
}

// Close releases resources in reverse construction order.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// CatalogPrices adapts the catalog service to the cart's price lookup.
type CatalogPrices struct {
	Service *catalog.Service
}

// Lookup implements cart.Catalog.
func (c CatalogPrices) Lookup(ctx context.Context, productID string) (cart.ProductInfo, error) {
	p, err := c.Service.Product(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return cart.ProductInfo{}, cart.ErrUnknownProduct
	}
	if err != nil {
		return cart.ProductInfo{}, err
	}
	return cart.ProductInfo{Name: p.Name, ImageURL: p.ImageURL, Price: p.Price}, nil
}

// OrderOwner resolves the order owner key: the principal when authenticated,
// otherwise the cart session token presented by the client.
func OrderOwner(carts *cart.Handler) order.OwnerFunc {
	return func(r *http.Request) (string, bool) {
		if p, ok := common.PrincipalFrom(r.Context()); ok && p.ID != "" {
			return p.ID, true
		}
		token := strings.TrimSpace(carts.SessionToken(r))
		return token, token != ""
	}
}
