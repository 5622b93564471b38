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
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/quote-api/internal/config"
	"github.com/jwalitptl/quote-api/internal/email"
	"github.com/jwalitptl/quote-api/internal/fallback"
	"github.com/jwalitptl/quote-api/internal/forward"
	adminHandler "github.com/jwalitptl/quote-api/internal/handler/admin"
	"github.com/jwalitptl/quote-api/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/quote-api/internal/handler/prometheus"
	quoteHandler "github.com/jwalitptl/quote-api/internal/handler/quote"
	"github.com/jwalitptl/quote-api/internal/middleware"
	"github.com/jwalitptl/quote-api/internal/repository/postgres"
	"github.com/jwalitptl/quote-api/internal/router"
	quoteService "github.com/jwalitptl/quote-api/internal/service/quote"
	"github.com/jwalitptl/quote-api/pkg/auth"
	"github.com/jwalitptl/quote-api/pkg/logger"
	"github.com/jwalitptl/quote-api/pkg/messaging"
	"github.com/jwalitptl/quote-api/pkg/messaging/redis"
	"github.com/jwalitptl/quote-api/pkg/metrics"
	"github.com/jwalitptl/quote-api/pkg/security"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (searched in ., ./config and /app/config when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Logging.Console,
	})
	// middleware logs through the global logger
	log.Logger = *appLogger.Zerolog()

	if err := run(cfg, appLogger); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server exited properly")
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(cfg.Monitoring.Namespace, registry)

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	quoteRepo := postgres.NewQuoteRepository(postgres.NewBaseRepository(db))

	var redisClient *goredis.Client
	if cfg.Redis.URL != "" && (cfg.Fallback.Store == "redis" || cfg.Broker.Enabled) {
		redisClient, err = redis.NewClient(cfg.Redis.ToBrokerConfig())
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	store, err := newFallbackStore(ctx, cfg.Fallback, redisClient)
	if err != nil {
		return err
	}
	defer store.Close()

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.Broker.Enabled {
		broker, err := redis.NewRedisBroker(ctx, redisClient, appLogger.Zerolog())
		if err != nil {
			return err
		}
		publisher = broker
	}

	forwarder, err := forward.New(cfg.Downstream, appMetrics)
	if err != nil {
		return err
	}
	if forwarder.Mode() == forward.ModeNoop {
		appLogger.Warn(nil, "Downstream forwarding runs in noop mode; quotes are acknowledged without delivery")
	}

	queue := fallback.NewQueue(store, cfg.Fallback.ToQueueConfig(), appMetrics)

	svc := quoteService.NewService(quoteService.Deps{
		Repo:      quoteRepo,
		Forwarder: forwarder,
		Queue:     queue,
		Hasher:    security.NewBcryptHasher(0),
		Notifier:  newNotifier(cfg),
		Publisher: publisher,
		Channel:   cfg.Broker.Channel,
		Logger:    appLogger,
		Metrics:   appMetrics,
	})

	// without a scheduler entries wait for cmd/worker
	var scheduler *fallback.Scheduler
	var runner adminHandler.RetryRunner
	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.Fallback.SchedulerEnabled {
		scheduler = fallback.NewScheduler(queue, store, svc, cfg.Fallback.ToSchedulerConfig(), appLogger, appMetrics)
		runner = scheduler
		go scheduler.Start(schedulerCtx)
	}

	handlers := router.Handlers{
		Health: health.NewHandler(map[string]health.Check{
			"database":       svc.Ready,
			"fallback_store": func(ctx context.Context) error {
				_, _, err := store.Get(ctx, cfg.Fallback.FlagKey)
				return err
			},
		}, 2*time.Second),
		Quote: quoteHandler.NewHandler(svc),
	}
	if cfg.RateLimit.Enabled {
		handlers.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   cfg.RateLimit.RequestsPerSecond,
			Burst: cfg.RateLimit.Burst,
			TTL:   cfg.RateLimit.TTL,
		})
	}
	if cfg.Monitoring.PrometheusEnabled {
		handlers.Metrics = prometheusHandler.New(cfg.Monitoring.Namespace, registry)
	}
	if cfg.JWT.Secret != "" {
		jwtSvc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
		if err != nil {
			return err
		}
		handlers.Auth = middleware.NewAuthMiddleware(jwtSvc)
		handlers.Admin = adminHandler.NewHandler(queue, runner)
	} else {
		appLogger.Warn(nil, "No JWT secret configured; admin endpoints are disabled")
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.Security.AllowedOrigins
	sizeLimit := middleware.DefaultSizeLimitConfig()
	sizeLimit.MaxBodySize = cfg.Server.MaxBodyBytes

	r := router.NewRouter(handlers, router.RouterConfig{
		CORSConfig:      corsConfig,
		SizeLimitConfig: sizeLimit,
		RequestTimeout:  cfg.Server.WriteTimeout,
		MetricsPath:     cfg.Monitoring.MetricsPath,
		ForwardAPIKey:   cfg.Security.ForwardAPIKey,
	})
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port, "downstream_mode", string(forwarder.Mode()), "fallback_store", cfg.Fallback.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Server forced to shutdown")
	}
	stopScheduler()
	if scheduler != nil {
		scheduler.Stop()
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		appLogger.Warn(err, "Pending quote dispatches did not finish before shutdown")
	}
	return nil
}

func newFallbackStore(ctx context.Context, cfg config.FallbackConfig, client *goredis.Client) (fallback.Store, error) {
	switch cfg.Store {
	case "redis":
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return fallback.NewRedisStore(client, cfg.KeyPrefix, false), nil
	case "sqlite":
		return fallback.NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return fallback.NewMemoryStore(time.Minute), nil
	}
}

// newNotifier returns nil when email is off so the service skips the step.
func newNotifier(cfg *config.Config) quoteService.Notifier {
	if !cfg.Email.Enabled {
		return nil
	}

	var senders []email.Service
	if cfg.Email.Provider.URL != "" {
		senders = append(senders, email.NewProviderService(cfg.Email.Provider, cfg.Email.From))
	}
	if cfg.Email.SMTP.Host != "" {
		senders = append(senders, email.NewSMTPService(cfg.Email.SMTP, cfg.Email.From))
	}
	if len(senders) == 0 {
		log.Warn().Msg("email enabled without a provider or SMTP host; notifications are disabled")
		return nil
	}

	return email.NewQuoteNotifier(email.NewFallbackService(senders...), email.NotifierConfig{
		AdminRecipients: cfg.Email.AdminRecipients,
		CustomerConfirm: cfg.Email.CustomerConfirm,
		PublicBaseURL:   cfg.Server.PublicBaseURL,
	})
}
