// Package config loads server configuration from the environment, with
// an optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/cloudx-io/bidchain/core"
)

// Config holds everything the server needs to start.
type Config struct {
	Port          string
	DatabaseURL   string
	SettlementURL string

	// Conversion rate: fiat base units per whole coin, with an opaque
	// version tag recorded on startup.
	ExchangeRate int64
	RateVersion  string

	// Signing domain bound into every bid attestation.
	DomainName        string
	DomainVersion     string
	ChainID           int64
	VerifyingContract string

	ClockSkew     time.Duration
	SweepInterval time.Duration
}

// Load reads the .env file if present, then the environment. Missing
// keys fall back to development defaults; malformed values are errors.
func Load() (*Config, error) {
	// Absent in production, where everything comes from the environment.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SettlementURL:     getEnv("SETTLEMENT_URL", ""),
		RateVersion:       getEnv("RATE_VERSION", "v1"),
		DomainName:        getEnv("DOMAIN_NAME", "BidChain"),
		DomainVersion:     getEnv("DOMAIN_VERSION", "1.0"),
		VerifyingContract: getEnv("VERIFYING_CONTRACT", "0x0000000000000000000000000000000000000000"),
	}

	var err error
	if cfg.ExchangeRate, err = getEnvInt64("EXCHANGE_RATE", core.DefaultFiatPerCoin); err != nil {
		return nil, err
	}
	if cfg.ExchangeRate <= 0 {
		return nil, fmt.Errorf("EXCHANGE_RATE must be positive, got %d", cfg.ExchangeRate)
	}
	if cfg.ChainID, err = getEnvInt64("CHAIN_ID", 1337); err != nil {
		return nil, err
	}
	if cfg.ClockSkew, err = getEnvDuration("CLOCK_SKEW", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, raw)
	}
	return v, nil
}
