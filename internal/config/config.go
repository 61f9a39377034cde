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

	// Storage: Postgres when DATABASE_URL is set, otherwise SQLite when
	// SQLITE_PATH is set, otherwise in-memory.
	DatabaseURL string
	SQLitePath  string

	// Transfer backend: "ledger" (internal balances) or "erc20" (on-chain).
	TransferBackend string

	// Slot granularity for the debit clock.
	SlotInterval time.Duration

	// On-chain settings (erc20 backend only)
	RPCURL             string
	ChainID            int64
	OperatorPrivateKey string // Hex-encoded, with or without 0x prefix

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM int
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultBackend      = "ledger"
	DefaultSlotInterval = 400 * time.Millisecond
	DefaultRateLimit    = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		TransferBackend:    getEnv("TRANSFER_BACKEND", DefaultBackend),
		SlotInterval:       getEnvDuration("SLOT_INTERVAL", DefaultSlotInterval),
		RPCURL:             os.Getenv("RPC_URL"),
		ChainID:            getEnvInt64("CHAIN_ID", 0),
		OperatorPrivateKey: os.Getenv("OPERATOR_PRIVATE_KEY"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.TransferBackend {
	case "ledger":
	case "erc20":
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required for the erc20 transfer backend")
		}
		key := c.OperatorPrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("OPERATOR_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	default:
		return fmt.Errorf("TRANSFER_BACKEND must be \"ledger\" or \"erc20\", got %q", c.TransferBackend)
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
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
