package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/app"
	"github.com/noah-isme/toko-cart/internal/config"
	"github.com/noah-isme/toko-cart/internal/lock"
	"github.com/noah-isme/toko-cart/internal/notify"
	"github.com/noah-isme/toko-cart/internal/obs"
	"github.com/noah-isme/toko-cart/internal/queue"
)

const depthInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics("toko", prometheus.DefaultRegisterer)

	docs, disconnect, err := app.NewDocStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect document store")
	}
	defer func() {
		if err := disconnect(context.Background()); err != nil {
			logger.Error().Err(err).Msg("disconnect document store")
		}
	}()

	redisClient, err := app.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	queueCfg := app.QueueConfig(cfg)
	redisOpt, serverCfg, err := queue.BuildServerConfig(queueCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue config")
	}
	serverCfg.Logger = asynqLogger{logger: logger}
	serverCfg.ErrorHandler = asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
		logger.Warn().Err(err).Str("task", task.Type()).Msg("task_failed")
	})

	consumer := &notify.Consumer{
		Store: notify.NewStore(docs),
		Locker: lock.Locker{
			R:            redisClient,
			Prefix:       "lock:",
			TTL:          cfg.LockTTL,
			Wait:         cfg.LockWait,
			RetryBackoff: cfg.LockRetryBackoff,
		},
		Logger: logger,
	}
	mux := asynq.NewServeMux()
	consumer.Register(mux)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	go reportDepth(ctx, inspector, queueCfg.Queue, logger)

	metricsSrv := &http.Server{Addr: ":9091", Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	srv := asynq.NewServer(redisOpt, serverCfg)
	logger.Info().Str("queue", queueCfg.Queue).Int("concurrency", serverCfg.Concurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}

	<-ctx.Done()
	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("worker shutdown complete")
}

func reportDepth(ctx context.Context, inspector *asynq.Inspector, queueName string, logger zerolog.Logger) {
	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := queue.ReportDepth(ctx, inspector, queueName); err != nil {
				logger.Debug().Err(err).Msg("queue_depth_failed")
			}
		}
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
