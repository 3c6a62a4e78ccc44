package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "FEE_RATE", "DAILY_ORDER_CAP", "SEED_LIQUIDITY", "STARTING_BALANCE", "CACHE_TTL"} {
		t.Setenv(key, "")
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", c.HTTPAddr)
	}
	if !c.FeeRate.Equal(decimal.NewFromFloat(0.02)) {
		t.Errorf("FeeRate = %s, want 0.02", c.FeeRate)
	}
	if c.DailyOrderCap != 25 {
		t.Errorf("DailyOrderCap = %d, want 25", c.DailyOrderCap)
	}
	if !c.SeedLiquidity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("SeedLiquidity = %s, want 1000", c.SeedLiquidity)
	}
	if !c.StartingBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("StartingBalance = %s, want 1000", c.StartingBalance)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("FEE_RATE", "0.05")
	t.Setenv("DAILY_ORDER_CAP", "10")
	t.Setenv("SEED_LIQUIDITY", "500")
	t.Setenv("STARTING_BALANCE", "2500")
	t.Setenv("CACHE_TTL", "1m")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", c.HTTPAddr)
	}
	if !c.FeeRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("FeeRate = %s", c.FeeRate)
	}
	if c.DailyOrderCap != 10 {
		t.Errorf("DailyOrderCap = %d", c.DailyOrderCap)
	}
	if c.CacheTTL.Minutes() != 1 {
		t.Errorf("CacheTTL = %s", c.CacheTTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct{ key, value string }{
		{"FEE_RATE", "abc"},
		{"FEE_RATE", "1.5"},
		{"FEE_RATE", "-0.1"},
		{"DAILY_ORDER_CAP", "0"},
		{"DAILY_ORDER_CAP", "many"},
		{"SEED_LIQUIDITY", "-100"},
		{"STARTING_BALANCE", "nope"},
		{"CACHE_TTL", "soon"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tc.key, tc.value)
			}
		})
	}
}
