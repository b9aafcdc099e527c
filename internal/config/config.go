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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	StripeAPIKey string

	// Escrow settings
	PlatformFeeBPS       int64         // basis-point fee on the escrow amount (250 = 2.5%)
	MinEscrowAmountMinor int64         // minimum escrow amount in minor units
	FundingWindow        time.Duration // time the buyer has to fund after creation
	InspectionWindow     time.Duration // time before auto-release to the seller
	SweepInterval        time.Duration // how often the auto-release sweep runs

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (empty = tracing disabled)

	// Security
	AdminSecret  string // shared secret for the arbitrator/admin surface
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultFeeBPS           = 250
	DefaultMinAmountMinor   = 50_000 // $500.00 in cents
	DefaultFundingWindow    = 48 * time.Hour
	DefaultInspectionWindow = 72 * time.Hour
	DefaultSweepInterval    = time.Hour
	DefaultRateLimitRPM     = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		PlatformFeeBPS:       getEnvInt64("PLATFORM_FEE_BPS", DefaultFeeBPS),
		MinEscrowAmountMinor: getEnvInt64("MIN_ESCROW_AMOUNT_MINOR", DefaultMinAmountMinor),
		FundingWindow:        getEnvDuration("FUNDING_WINDOW", DefaultFundingWindow),
		InspectionWindow:     getEnvDuration("INSPECTION_WINDOW", DefaultInspectionWindow),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.PlatformFeeBPS < 0 || c.PlatformFeeBPS >= 10_000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be in [0, 10000), got %d", c.PlatformFeeBPS)
	}
	if c.MinEscrowAmountMinor <= 0 {
		return fmt.Errorf("MIN_ESCROW_AMOUNT_MINOR must be positive, got %d", c.MinEscrowAmountMinor)
	}
	if c.FundingWindow <= 0 {
		return fmt.Errorf("FUNDING_WINDOW must be positive")
	}
	if c.InspectionWindow <= 0 {
		return fmt.Errorf("INSPECTION_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.IsProduction() && c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required in production")
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
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
