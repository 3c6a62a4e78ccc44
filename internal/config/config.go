// Package config loads engine configuration from environment variables.
// Every knob has a sensible default so a bare `go run` starts a working
// in-memory engine; DATABASE_URL and REDIS_URL opt into persistence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	RedisURL        string
	FeeRate         decimal.Decimal
	DailyOrderCap   int
	SeedLiquidity   decimal.Decimal
	StartingBalance decimal.Decimal
	CacheTTL        time.Duration
}

// Load reads the environment and validates every value.
func Load() (Config, error) {
	c := Config{
		HTTPAddr:        ":8080",
		FeeRate:         decimal.NewFromFloat(0.02),
		DailyOrderCap:   25,
		SeedLiquidity:   decimal.NewFromInt(1000),
		StartingBalance: decimal.NewFromInt(1000),
		CacheTTL:        30 * time.Second,
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")

	if v := os.Getenv("FEE_RATE"); v != "" {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			return c, fmt.Errorf("invalid FEE_RATE %q: %w", v, err)
		}
		if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return c, fmt.Errorf("FEE_RATE %s out of range [0, 1)", fee)
		}
		c.FeeRate = fee
	}

	if v := os.Getenv("DAILY_ORDER_CAP"); v != "" {
		cap, err := strconv.Atoi(v)
		if err != nil || cap < 1 {
			return c, fmt.Errorf("invalid DAILY_ORDER_CAP %q", v)
		}
		c.DailyOrderCap = cap
	}

	if v := os.Getenv("SEED_LIQUIDITY"); v != "" {
		seed, err := decimal.NewFromString(v)
		if err != nil || !seed.IsPositive() {
			return c, fmt.Errorf("invalid SEED_LIQUIDITY %q", v)
		}
		c.SeedLiquidity = seed
	}

	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		bal, err := decimal.NewFromString(v)
		if err != nil || bal.IsNegative() {
			return c, fmt.Errorf("invalid STARTING_BALANCE %q", v)
		}
		c.StartingBalance = bal
	}

	if v := os.Getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return c, fmt.Errorf("invalid CACHE_TTL %q", v)
		}
		c.CacheTTL = ttl
	}

	return c, nil
}
