package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"MONGO_URI":  "mongodb://localhost:27017",
		"REDIS_URL":  "redis://localhost:6379/0",
		"JWT_SECRET": "secret",

		"PORT":                            "",
		"PRICING_FREE_SHIPPING_THRESHOLD": "",
		"PRICING_FLAT_SHIPPING_FEE":       "",
		"PRICING_TAX_RATE_PERCENT":        "",
		"CURRENCY_CODE":                   "",
		"CHECKOUT_ALLOW_GUEST":            "",
		"CART_SESSION_IDLE_TTL":           "",
		"RATE_LIMIT":                      "",
		"QUEUE_ENABLED":                   "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "INR", cfg.Currency)
	require.True(t, cfg.AllowGuestCheckout)
	require.False(t, cfg.QueueEnabled)
	require.Equal(t, 30*time.Minute, cfg.CartSessionIdleTTL)
	require.Equal(t, "120-M", cfg.RateLimit)

	require.True(t, decimal.NewFromInt(500).Equal(cfg.Pricing.FreeShippingThreshold))
	require.True(t, decimal.NewFromInt(50).Equal(cfg.Pricing.FlatShippingFee))
	require.True(t, decimal.RequireFromString("0.18").Equal(cfg.Pricing.TaxRate))
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = ":9090"
	env["PRICING_TAX_RATE_PERCENT"] = "5"
	env["CURRENCY_CODE"] = "idr"
	env["CHECKOUT_ALLOW_GUEST"] = "false"
	env["CART_SESSION_IDLE_TTL"] = "not-a-duration"
	env["QUEUE_ENABLED"] = "yes"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.True(t, decimal.RequireFromString("0.05").Equal(cfg.Pricing.TaxRate))
	require.Equal(t, "IDR", cfg.Currency)
	require.False(t, cfg.AllowGuestCheckout)
	require.Equal(t, 30*time.Minute, cfg.CartSessionIdleTTL)
	require.True(t, cfg.QueueEnabled)
}

func TestLoadRequiresBackends(t *testing.T) {
	env := baseEnv()
	env["MONGO_URI"] = ""
	env["JWT_SECRET"] = ""

	_, err := LoadForTests(env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "MONGO_URI is required")
	require.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestLoadRejectsInvalidPricing(t *testing.T) {
	env := baseEnv()
	env["PRICING_FLAT_SHIPPING_FEE"] = "-1"
	_, err := LoadForTests(env)
	require.Error(t, err)

	env["PRICING_FLAT_SHIPPING_FEE"] = "fifty"
	_, err = LoadForTests(env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PRICING_FLAT_SHIPPING_FEE")
}
