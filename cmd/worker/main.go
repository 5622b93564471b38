package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/quote-api/internal/config"
	"github.com/jwalitptl/quote-api/internal/fallback"
	"github.com/jwalitptl/quote-api/internal/forward"
	"github.com/jwalitptl/quote-api/internal/repository/postgres"
	quoteService "github.com/jwalitptl/quote-api/internal/service/quote"
	"github.com/jwalitptl/quote-api/pkg/logger"
	"github.com/jwalitptl/quote-api/pkg/messaging/redis"
	"github.com/jwalitptl/quote-api/pkg/metrics"
	"github.com/jwalitptl/quote-api/pkg/security"
)

// The worker drains a shared fallback store so API replicas can run with
// fallback.scheduler_enabled=false.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Fallback.Store == "memory" {
		log.Fatal().Msg("The retry worker needs a shared fallback store (redis or sqlite)")
	}

	// Initialize logger
	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Logging.Console,
	})
	log.Logger = *appLogger.Zerolog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(cfg.Monitoring.Namespace, registry)

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open fallback store")
	}
	defer store.Close()

	forwarder, err := forward.New(cfg.Downstream, appMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create downstream forwarder")
	}

	queue := fallback.NewQueue(store, cfg.Fallback.ToQueueConfig(), appMetrics)
	svc := quoteService.NewService(quoteService.Deps{
		Repo:      postgres.NewQuoteRepository(postgres.NewBaseRepository(db)),
		Forwarder: forwarder,
		Queue:     queue,
		Hasher:    security.NewBcryptHasher(0),
		Logger:    appLogger,
		Metrics:   appMetrics,
	})

	schedulerCfg := cfg.Fallback.ToSchedulerConfig()
	if schedulerCfg.SweepInterval <= 0 {
		schedulerCfg.SweepInterval = time.Minute
	}
	scheduler := fallback.NewScheduler(queue, store, svc, schedulerCfg, appLogger, appMetrics)

	srv := setupHealthCheck(cfg.Worker.HealthPort, registry, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})

	appLogger.Info("Retry worker started", "fallback_store", cfg.Fallback.Store, "downstream_mode", string(forwarder.Mode()))
	scheduler.Start(ctx)

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health server forced to shutdown")
	}
	appLogger.Info("Retry worker stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (fallback.Store, error) {
	if cfg.Fallback.Store == "sqlite" {
		return fallback.NewSQLiteStore(ctx, cfg.Fallback.SQLitePath)
	}

	client, err := redis.NewClient(cfg.Redis.ToBrokerConfig())
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return fallback.NewRedisStore(client, cfg.Fallback.KeyPrefix, true), nil
}

func setupHealthCheck(port int, registry *prometheus.Registry, ready func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health check server failed")
		}
	}()
	return srv
}
