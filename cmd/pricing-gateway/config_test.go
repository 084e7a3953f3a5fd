package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("COMMERCE_API_URL", "http://localhost:9000")

	cfg, err := readConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/store/variants/lowest-prices", cfg.CommerceLowestPath)
	assert.Equal(t, "zł", cfg.CurrencySuffix)
	assert.Equal(t, 30, cfg.LowestPriceDays)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchDebounce)
	assert.Equal(t, 5*time.Minute, cfg.BatchTTL)
	assert.Equal(t, 100, cfg.CacheMaxSize)
	assert.Equal(t, 60*time.Second, cfg.CacheDefaultTTL)
	assert.Equal(t, 3, cfg.FetchMaxAttempts)
	assert.True(t, cfg.RateEnabled)
	assert.Equal(t, 10.0, cfg.RateRPS)
	assert.Equal(t, 20, cfg.RateBurst)
	assert.False(t, cfg.StatsEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestReadConfig_ParsesOverrides(t *testing.T) {
	t.Setenv("COMMERCE_API_URL", "https://shop.example.com")
	t.Setenv("CACHE_VOLATILE_PATTERNS", "cart,stock")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("BATCH_DEBOUNCE", "10ms")
	t.Setenv("RATE_ENABLED", "false")
	t.Setenv("RATE_RPS", "0")
	t.Setenv("FETCH_RPS", "2.5")

	cfg, err := readConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"cart", "stock"}, cfg.CacheVolatilePatterns)
	assert.Len(t, cfg.CORSAllowedOrigins, 2)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchDebounce)
	assert.False(t, cfg.RateEnabled)
	assert.Equal(t, 2.5, cfg.FetchRPS)
}

func TestConfigValidate(t *testing.T) {
	valid := func() config {
		return config{
			CommerceAPIURL:   "http://localhost:9000",
			RateEnabled:      true,
			RateRPS:          10,
			RateBurst:        20,
			LowestPriceDays:  30,
			BatchDebounce:    50 * time.Millisecond,
			CacheMaxSize:     100,
			FetchMaxAttempts: 3,
		}
	}
	require.NoError(t, valid().validate())

	tests := []struct {
		name   string
		mutate func(*config)
		want   string
	}{
		{"relative url", func(c *config) { c.CommerceAPIURL = "localhost" }, "COMMERCE_API_URL"},
		{"stats without redis", func(c *config) { c.StatsEnabled = true }, "STATS_REDIS_ADDR"},
		{"zero rps", func(c *config) { c.RateRPS = 0 }, "RATE_RPS"},
		{"zero burst", func(c *config) { c.RateBurst = 0 }, "RATE_BURST"},
		{"negative concurrency", func(c *config) { c.ConcurrencyMax = -1 }, "CONCURRENCY_MAX"},
		{"zero days", func(c *config) { c.LowestPriceDays = 0 }, "LOWEST_PRICE_DAYS"},
		{"zero debounce", func(c *config) { c.BatchDebounce = 0 }, "BATCH_DEBOUNCE"},
		{"zero cache", func(c *config) { c.CacheMaxSize = 0 }, "CACHE_MAX_SIZE"},
		{"zero attempts", func(c *config) { c.FetchMaxAttempts = 0 }, "FETCH_MAX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigValidate_RateLimitOffSkipsRateChecks(t *testing.T) {
	cfg := config{
		CommerceAPIURL:   "http://localhost:9000",
		LowestPriceDays:  30,
		BatchDebounce:    time.Millisecond,
		CacheMaxSize:     1,
		FetchMaxAttempts: 1,
	}
	assert.NoError(t, cfg.validate())
}
