package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/config"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/handler"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/cache"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/llm"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/payment"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/resilience"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/sqlite"
	"github.com/ghostwriter/ghostwriter-api/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("database_path", cfg.DatabasePath),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("generation_timeout", cfg.GenerationTimeout),
		zap.Int("max_concurrent_generations", cfg.MaxConcurrentGenerations),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("jwt_refresh_ttl", cfg.JWTRefreshTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "ghostwriter-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Catalog ---
	cat := catalog.Default()
	if err := cat.Validate(); err != nil {
		logger.Fatal("catalog validation failed", zap.Error(err))
	}

	// --- Storage ---
	store, err := sqlite.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	// --- Cache ---
	storyCache := cache.New[*domain.Story](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	llmBreaker := resilience.NewCircuitBreaker("llm")
	paymentBreaker := resilience.NewCircuitBreaker("payment")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	llmClient := llm.NewClient(
		httpClient,
		cfg.LLMProvider,
		cfg.OllamaBaseURL,
		cfg.GroqBaseURL,
		cfg.GroqAPIKey,
		llmBreaker,
		resilienceCfg,
		logger,
	)
	paymentClient := payment.NewClient(
		httpClient,
		cfg.StripeAPIURL,
		cfg.StripeSecretKey,
		cfg.FrontendURL,
		paymentBreaker,
		resilienceCfg,
		logger,
	)

	// --- Services ---
	creditSvc := service.NewCreditService(store, store, cat, metrics, logger)
	authSvc := service.NewAuthService(store, store, cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, logger)
	billingSvc := service.NewBillingService(paymentClient, cat, logger)
	genSvc := service.NewGenerationService(
		store,
		creditSvc,
		llmClient,
		service.Models{
			Creative:   cfg.CreativeModel,
			Structured: cfg.StructuredModel,
			Biography:  cfg.BiographyModel,
		},
		cfg.MaxConcurrentGenerations,
		cfg.GenerationTimeout,
		storyCache,
		metrics,
		logger,
	)

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhook deliveries will be rejected")
	}

	// --- Router ---
	router := handler.NewRouter(authSvc, creditSvc, genSvc, billingSvc, store, cfg.StripeWebhookSecret, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Generations are synchronous and hold the connection, so the
		// write timeout must outlive the generation timeout.
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
