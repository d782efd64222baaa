// Package config loads engine configuration from the environment. A .env
// file is honored for local development.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all engine settings. Fee schedule and payout unit are
// injected here rather than hard-coded in the accounting paths.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// FeeRate is the flat rate applied to gross trade amounts.
	FeeRate decimal.Decimal
	// PayoutUnit is the currency paid per winning share at settlement.
	PayoutUnit decimal.Decimal
	// Liquidity is the LMSR b parameter for the default oracle.
	Liquidity decimal.Decimal

	// Position limits; zero disables.
	MaxSharesPerOutcome decimal.Decimal
	MaxSharesPerMarket  decimal.Decimal
}

// Load reads configuration from the environment with defaults suitable for
// local development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    getDuration("CACHE_TTL", 30*time.Second),

		FeeRate:    getDecimal("FEE_RATE", "0.02"),
		PayoutUnit: getDecimal("PAYOUT_UNIT", "1"),
		Liquidity:  getDecimal("LIQUIDITY_B", "100"),

		MaxSharesPerOutcome: getDecimal("MAX_SHARES_PER_OUTCOME", "0"),
		MaxSharesPerMarket:  getDecimal("MAX_SHARES_PER_MARKET", "0"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDecimal(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
