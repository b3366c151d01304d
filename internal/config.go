package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// SMS Provider Configuration
	SMSProvider string // "twilio" or "mock"

	// Twilio credentials (required when SMS_PROVIDER is "twilio")
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Batch send pacing
	BatchSendDelay time.Duration

	// Trial duration for newly activated businesses
	TrialDuration time.Duration

	// Stripe Billing Configuration
	// These are required when billing is enabled in production.
	// In development, the webhook endpoint no-ops if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeMonthlyPriceID string
	StripeYearlyPriceID  string

	// Public base URL used to build Stripe checkout and portal redirects
	AppBaseURL string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// SMS provider defaults to mock for development
		SMSProvider:      getEnv("SMS_PROVIDER", "mock"),
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		// Delay between messages in a batch, to stay under carrier rate limits
		BatchSendDelay: getEnvDuration("BATCH_SEND_DELAY", 200*time.Millisecond),

		TrialDuration: getEnvDuration("TRIAL_DURATION", 14*24*time.Hour),

		// Stripe billing is optional; the webhook endpoint no-ops without these
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Stripe price IDs, required when billing is enabled
		StripeMonthlyPriceID: getEnv("STRIPE_MONTHLY_PRICE_ID", ""),
		StripeYearlyPriceID:  getEnv("STRIPE_YEARLY_PRICE_ID", ""),

		AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:8080"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Validate SMS provider configuration
	if cfg.SMSProvider == "twilio" {
		if cfg.TwilioAccountSID == "" {
			return nil, fmt.Errorf("TWILIO_ACCOUNT_SID is required when SMS_PROVIDER is 'twilio'")
		}
		if cfg.TwilioAuthToken == "" {
			return nil, fmt.Errorf("TWILIO_AUTH_TOKEN is required when SMS_PROVIDER is 'twilio'")
		}
		if cfg.TwilioFromNumber == "" {
			return nil, fmt.Errorf("TWILIO_FROM_NUMBER is required when SMS_PROVIDER is 'twilio'")
		}
	} else if cfg.SMSProvider != "mock" {
		return nil, fmt.Errorf("SMS_PROVIDER must be either 'twilio' or 'mock', got: %s", cfg.SMSProvider)
	}

	if cfg.BatchSendDelay < 0 {
		return nil, fmt.Errorf("BATCH_SEND_DELAY must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
