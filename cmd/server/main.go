// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swiftpay/config"
	"swiftpay/internal/cache"
	"swiftpay/internal/events"
	"swiftpay/internal/handler"
	"swiftpay/internal/provider/mpesa"
	"swiftpay/internal/repository"
	"swiftpay/internal/router"
	"swiftpay/internal/usecase"
	"swiftpay/internal/webhook"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment")
	}

	// Initialize logger
	logger, err := newLogger(os.Getenv("ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting swiftpay")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("mpesa_environment", cfg.Mpesa.Environment))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	dbPool, err := config.ConnectDB(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// Redis is optional; without it status caching, idempotency and rate limiting are off.
	redisCache, err := cache.Connect(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, running without cache", zap.Error(err))
	}
	defer redisCache.Close()

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, logger)
	}
	defer publisher.Close()

	// Initialize repositories
	txRepo := repository.NewTransactionRepository(dbPool)
	credRepo := repository.NewCredentialRepository(dbPool)
	deliveryRepo := repository.NewWebhookDeliveryRepository(dbPool)
	appRepo := repository.NewApplicationRepository(dbPool)

	// Initialize providers
	mpesaProvider := mpesa.NewMpesaProvider(cfg.Mpesa)
	master := mpesa.MasterCredentials(cfg.Mpesa)

	// Initialize usecases
	applicationUC := usecase.NewApplicationUsecase(appRepo, logger)
	settler := usecase.NewSettler(txRepo, applicationUC, usecase.SiteScope{
		OwnerID:         cfg.Site.OwnerID,
		ReferencePrefix: cfg.Site.ReferencePrefix,
	}, redisCache, publisher, logger)

	paymentUC := usecase.NewPaymentUsecase(
		txRepo,
		credRepo,
		mpesaProvider,
		redisCache,
		usecase.PaymentConfig{
			Master:              master,
			CallbackURL:         cfg.CallbackURL(),
			IdempotencyTTL:      cfg.Redis.IdempotencyTTL,
			SiteOwnerID:         cfg.Site.OwnerID,
			SiteDefaultAmount:   cfg.Site.DefaultAmount,
			SiteReferencePrefix: cfg.Site.ReferencePrefix,
			SiteDescription:     cfg.Site.Description,
		},
		logger,
	)

	callbackUC := usecase.NewCallbackUsecase(txRepo, settler, logger)

	statusUC := usecase.NewStatusUsecase(
		txRepo,
		credRepo,
		mpesaProvider,
		settler,
		redisCache,
		master,
		cfg.Redis.StatusTTL,
		logger,
	)

	dispatcher := webhook.NewDispatcher(deliveryRepo, webhook.Config{
		Workers:      cfg.Webhook.Workers,
		BatchSize:    cfg.Webhook.BatchSize,
		PollInterval: cfg.Webhook.PollInterval,
		MaxAttempts:  cfg.Webhook.MaxAttempts,
		Timeout:      cfg.Webhook.Timeout,
	}, logger)
	dispatcher.Start(ctx)

	// Initialize handlers
	handlers := router.Handlers{
		Payment:     handler.NewPaymentHandler(paymentUC, statusUC, logger),
		Callback:    handler.NewCallbackHandler(callbackUC, logger),
		Stream:      handler.NewStreamHandler(statusUC, cfg.Poller.Interval, cfg.Poller.Timeout, logger),
		Application: handler.NewApplicationHandler(applicationUC, logger),
	}

	r := router.SetupRoutes(handlers, redisCache, router.RateLimitConfig{
		Enabled: cfg.Redis.RateLimitOn,
		Limit:   cfg.Redis.RateLimit,
		Window:  cfg.Redis.RateLimitWindow,
	}, logger)

	// WriteTimeout leaves room for the gateway timeout on initiation.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("swiftpay started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("callback_url", cfg.CallbackURL()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	stop()
	dispatcher.Stop()

	logger.Info("server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
