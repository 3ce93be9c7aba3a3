package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 1.10, cfg.Trading.MarketBuyFallbackMultiplier)
	assert.Equal(t, 0.0, cfg.Trading.FeeRate)
	assert.Equal(t, 20.0, cfg.Trading.PriceBandPercent)
	assert.Equal(t, 50, cfg.Trading.PageSize)
	assert.Equal(t, 12*time.Hour, cfg.Pricing.VWAPWindow)
	assert.Equal(t, 2, cfg.Pricing.MinTradeCount)
	assert.Equal(t, 0.01, cfg.Pricing.CompetitiveMargin)
	assert.Equal(t, 0.5, cfg.Pricing.MinChangePercent)
	assert.Equal(t, 5.0, cfg.Pricing.MaxChangePercent)
	assert.Equal(t, 5*time.Minute, cfg.Pricing.UpdateInterval)
	assert.Equal(t, 4, cfg.Pricing.SweepConcurrency)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EXCHANGE_HTTP_ADDR", ":9999")
	t.Setenv("EXCHANGE_PRICING_MIN_TRADE_COUNT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Pricing.MinTradeCount)
}
