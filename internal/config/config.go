// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Commission schedule, in minor units / basis points
	CommissionRateBps int64
	CommissionFlatFee int64

	// Release policy
	ReturnWindowDays    int           // buyer return window opened at delivery
	ReleaseBusinessDays int           // business days before scheduled release
	SweepInterval       time.Duration // auto-transition sweep cadence

	// Security
	AdminSecret         string // Admin API bearer secret
	StripeWebhookSecret string // Stripe webhook signing secret

	// Mail
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector (optional, tracing off if not set)
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultCommissionRateBps   = 250 // 2.5%
	DefaultCommissionFlatFee   = 50
	DefaultReturnWindowDays    = 7
	DefaultReleaseBusinessDays = 5
	DefaultSweepInterval       = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CommissionRateBps:   getEnvInt64("COMMISSION_RATE_BPS", DefaultCommissionRateBps),
		CommissionFlatFee:   getEnvInt64("COMMISSION_FLAT_FEE", DefaultCommissionFlatFee),
		ReturnWindowDays:    int(getEnvInt64("RETURN_WINDOW_DAYS", DefaultReturnWindowDays)),
		ReleaseBusinessDays: int(getEnvInt64("RELEASE_BUSINESS_DAYS", DefaultReleaseBusinessDays)),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		MailFrom:            getEnv("MAIL_FROM", "no-reply@sellora.io"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.CommissionRateBps < 0 || c.CommissionRateBps > 10000 {
		return fmt.Errorf("COMMISSION_RATE_BPS must be between 0 and 10000")
	}
	if c.CommissionFlatFee < 0 {
		return fmt.Errorf("COMMISSION_FLAT_FEE must not be negative")
	}
	if c.ReturnWindowDays < 0 {
		return fmt.Errorf("RETURN_WINDOW_DAYS must not be negative")
	}
	if c.ReleaseBusinessDays < 0 {
		return fmt.Errorf("RELEASE_BUSINESS_DAYS must not be negative")
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
