package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"automation/internal/api"
	"automation/internal/circuitbreaker"
	"automation/internal/config"
	"automation/internal/delivery"
	"automation/internal/engine"
	"automation/internal/metrics"
	"automation/internal/notify"
	"automation/internal/observ"
	"automation/internal/redis"
	"automation/internal/scheduler"
	"automation/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting automation engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// Memory always exists: it is the role resolver and the fallback when
	// Postgres or Redis are unreachable.
	memory := store.NewMemory(nil)

	var records engine.RecordStore = memory
	pg, err := store.NewPostgres(ctx, store.PostgresConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Warn("postgres unavailable, using in-memory record store",
			zap.Error(err),
			zap.String("host", cfg.DBHost),
		)
	} else {
		records = pg
		defer pg.Close()
	}

	var notifStore notify.Store = memory
	redisStore, err := store.NewRedis(ctx, store.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis store unavailable, using in-memory notification store",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		notifStore = redisStore
		defer func() { _ = redisStore.Close() }()
	}

	// Shared Redis client for ingestion idempotency and API rate limiting.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,
			Window: 1 * time.Minute,
		})
		defer func() { _ = redisClient.Close() }()
	}

	sender := buildSender(ctx, cfg, notifStore, logger)

	processor := delivery.NewProcessor(notifStore, sender, delivery.Config{
		PollInterval: time.Duration(cfg.DeliveryTickSeconds) * time.Second,
		MaxAttempts:  cfg.DeliveryMaxAttempts,
		Retention:    time.Duration(cfg.DeliveryRetentionHours) * time.Hour,
	}, nil, logger)

	templates := notify.NewTemplateRegistry()
	templateProcessor := engine.NewTemplateProcessor(nil)
	dispatcher := notify.NewDispatcher(templates, templateProcessor, notifStore, memory, processor, nil, logger)

	// The scheduler's named actions fire events back into the engine, which
	// does not exist yet. The closures capture the variable, not the value;
	// eng is assigned before anything ticks.
	var eng *engine.Engine
	trigger := func(ctx context.Context, event string, payload map[string]any) {
		eng.Trigger(ctx, event, payload)
	}

	sched := scheduler.New(namedActions(trigger, logger), scheduler.Config{
		TickInterval: time.Duration(cfg.SchedulerTickSeconds) * time.Second,
	}, nil, logger)

	registry := engine.NewRuleRegistry(nil)
	executor := engine.NewExecutor(records, dispatcher, sched, namedFunctions(logger), templateProcessor, logger)
	eng = engine.New(registry, executor, nil, engine.Config{
		TickInterval: time.Duration(cfg.EngineTickSeconds) * time.Second,
	}, logger)

	if err := seedDefaults(registry, templates, dispatcher, sched, logger); err != nil {
		return fmt.Errorf("failed to seed defaults: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.Start(runCtx)
	go sched.Start(runCtx)
	go processor.Start(runCtx)

	logger.Info("background loops started",
		zap.Int("engine_tick_seconds", cfg.EngineTickSeconds),
		zap.Int("scheduler_tick_seconds", cfg.SchedulerTickSeconds),
		zap.Int("delivery_tick_seconds", cfg.DeliveryTickSeconds),
	)

	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, eng, dispatcher, templates, sched, processor, idempotencyService)
	} else {
		handler = api.NewHandler(logger, eng, dispatcher, templates, sched, processor)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		r.Mount("/", handler.Routes())
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSender assembles the channel senders. Production uses the real
// transports behind circuit breakers; everything else logs instead of
// sending so local runs need no AWS credentials.
func buildSender(ctx context.Context, cfg *config.Config, notifStore notify.Store, logger *zap.Logger) delivery.Sender {
	inApp := delivery.NewInAppSender(notifStore, logger)

	if cfg.Env != "production" {
		return delivery.NewMultiSender(logger, inApp, delivery.NewLogSender(logger))
	}

	senders := []delivery.Sender{inApp}

	sesSender, err := delivery.NewSESSender(ctx, delivery.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email delivery disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(sesSender, circuitbreaker.DefaultConfig("ses"), logger))
	}

	snsSender, err := delivery.NewSNSSender(ctx, delivery.SNSConfig{Region: cfg.SNSRegion}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS delivery disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(snsSender, circuitbreaker.DefaultConfig("sns"), logger))
	}

	if cfg.PushGatewayURL != "" {
		pushSender := delivery.NewPushSender(delivery.PushConfig{GatewayURL: cfg.PushGatewayURL}, logger)
		senders = append(senders, circuitbreaker.NewProtectedSender(pushSender, circuitbreaker.DefaultConfig("push"), logger))
	}

	logger.Info("initialized multi-channel delivery",
		zap.Bool("email_enabled", sesSender != nil),
		zap.Bool("sms_enabled", snsSender != nil),
		zap.Bool("push_enabled", cfg.PushGatewayURL != ""),
	)

	return delivery.NewMultiSender(logger, senders...)
}
