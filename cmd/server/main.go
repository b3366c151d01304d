package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calebdavis/textback/internal"
	"github.com/calebdavis/textback/internal/billing"
	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/handler"
	"github.com/calebdavis/textback/internal/metrics"
	"github.com/calebdavis/textback/internal/middleware"
	"github.com/calebdavis/textback/internal/repository"
	"github.com/calebdavis/textback/internal/service"
	"github.com/calebdavis/textback/internal/sms"
	"github.com/calebdavis/textback/internal/sms/mock"
	"github.com/calebdavis/textback/internal/sms/twilio"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// quotaStore adapts *repository.Store to service.QuotaStore: the store
// returns its concrete *repository.Tx, the service wants the QuotaTx
// interface.
type quotaStore struct {
	*repository.Store
}

func (s quotaStore) BeginQuotaTx(ctx context.Context) (service.QuotaTx, error) {
	return s.Store.BeginQuotaTx(ctx)
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize SMS provider
	var provider sms.Provider
	switch cfg.SMSProvider {
	case "twilio":
		provider, err = twilio.New(twilio.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, logger)
		if err != nil {
			return fmt.Errorf("twilio initialization failed: %w", err)
		}
	default:
		provider = mock.New(logger)
	}
	logger.Info("SMS provider ready", "provider", cfg.SMSProvider)

	// Initialize billing (nil when Stripe is not configured; the webhook
	// endpoint then acknowledges and drops deliveries)
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			MonthlyPriceID: cfg.StripeMonthlyPriceID,
			YearlyPriceID:  cfg.StripeYearlyPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing disabled: STRIPE_SECRET_KEY not set")
	}

	// Initialize services
	quotaService := service.NewQuotaService(quotaStore{repo}, logger)
	sendService := service.NewSendService(repo, quotaService, provider, logger, service.SendServiceConfig{
		TrialDuration: cfg.TrialDuration,
	})
	batchService := service.NewBatchService(repo, repo, quotaService, provider, logger, service.BatchServiceConfig{
		SendDelay:     cfg.BatchSendDelay,
		TrialDuration: cfg.TrialDuration,
	})
	webhookService := service.NewWebhookService(repo, domain.DefaultPlanLimits, logger)

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(repo, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	sendHandler := handler.NewSendHandler(sendService, quotaService, logger)
	batchHandler := handler.NewBatchHandler(batchService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, webhookService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Webhook routes (public - authenticated by Stripe signature)
	webhookHandler.RegisterRoutes(mux)

	// API routes (require API key)
	protect := middleware.Stack(authMw.RequireBusiness)
	sendHandler.RegisterRoutes(mux, protect)
	batchHandler.RegisterRoutes(mux, protect)

	// Billing routes only exist when Stripe is configured
	if billingService != nil {
		billingHandler := handler.NewBillingHandler(billingService, repo, billing.PriceConfig{
			MonthlyPriceID: cfg.StripeMonthlyPriceID,
			YearlyPriceID:  cfg.StripeYearlyPriceID,
		}, cfg.AppBaseURL, logger)
		billingHandler.RegisterRoutes(mux, protect)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: loggingMw.Handler(metrics.Middleware(mux)),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
