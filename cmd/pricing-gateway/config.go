package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type config struct {
	ListenAddr   string `env:"LISTEN_ADDR" env-default:":8080"`
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" env-default:"1048576"`

	CommerceAPIURL         string        `env:"COMMERCE_API_URL" env-required:"true"`
	CommercePublishableKey string        `env:"COMMERCE_PUBLISHABLE_KEY"`
	CommerceLowestPath     string        `env:"COMMERCE_LOWEST_PRICE_PATH" env-default:"/store/variants/lowest-prices"`
	FetchTimeout           time.Duration `env:"FETCH_TIMEOUT" env-default:"10s"`
	FetchMaxAttempts       int           `env:"FETCH_MAX_ATTEMPTS" env-default:"3"`
	FetchRPS               float64       `env:"FETCH_RPS" env-default:"0"`
	FetchBurst             int           `env:"FETCH_BURST" env-default:"5"`
	FetchMaxConcurrent     int           `env:"FETCH_MAX_CONCURRENT" env-default:"8"`

	CurrencyCode    string `env:"CURRENCY_CODE" env-default:"pln"`
	CurrencySuffix  string `env:"CURRENCY_SUFFIX" env-default:"zł"`
	RegionID        string `env:"REGION_ID"`
	LowestPriceDays int    `env:"LOWEST_PRICE_DAYS" env-default:"30"`

	BatchDebounce    time.Duration `env:"BATCH_DEBOUNCE" env-default:"50ms"`
	BatchTTL         time.Duration `env:"BATCH_TTL" env-default:"5m"`
	BatchMaxDispatch int           `env:"BATCH_MAX_DISPATCH" env-default:"4"`
	BatchWaitTimeout time.Duration `env:"BATCH_WAIT_TIMEOUT" env-default:"3s"`
	BatchMaxContexts int           `env:"BATCH_MAX_CONTEXTS" env-default:"32"`
	BatchLookupSize  int           `env:"BATCH_LOOKUP_SIZE" env-default:"1000"`

	CacheMaxSize          int           `env:"CACHE_MAX_SIZE" env-default:"100"`
	CacheDefaultTTL       time.Duration `env:"CACHE_DEFAULT_TTL" env-default:"60s"`
	CacheVolatilePatterns []string      `env:"CACHE_VOLATILE_PATTERNS" env-separator:","`
	CacheCleanupEvery     time.Duration `env:"CACHE_CLEANUP_EVERY" env-default:"5m"`

	RateEnabled   bool          `env:"RATE_ENABLED" env-default:"true"`
	RateRPS       float64       `env:"RATE_RPS" env-default:"10"`
	RateBurst     int           `env:"RATE_BURST" env-default:"20"`
	RateKeyHeader string        `env:"RATE_KEY_HEADER"`
	TrustXFF      bool          `env:"TRUST_XFF" env-default:"false"`
	RetryAfter    time.Duration `env:"RETRY_AFTER" env-default:"1s"`
	AddHeaders    bool          `env:"ADD_RATELIMIT_HEADERS" env-default:"false"`

	ConcurrencyMax     int           `env:"CONCURRENCY_MAX" env-default:"100"`
	ConcurrencyTimeout time.Duration `env:"CONCURRENCY_TIMEOUT" env-default:"0s"`

	StatsEnabled       bool          `env:"STATS_ENABLED" env-default:"false"`
	StatsRedisAddr     string        `env:"STATS_REDIS_ADDR"`
	StatsRedisPassword string        `env:"STATS_REDIS_PASSWORD"`
	StatsRedisDB       int           `env:"STATS_REDIS_DB" env-default:"0"`
	StatsPrefix        string        `env:"STATS_PREFIX" env-default:"pricing:stats"`
	StatsTTL           time.Duration `env:"STATS_TTL" env-default:"24h"`
	StatsBucket        string        `env:"STATS_BUCKET" env-default:"minute"`
	StatsTrackKeys     bool          `env:"STATS_TRACK_KEYS" env-default:"false"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogPretty bool   `env:"LOG_PRETTY" env-default:"false"`
}

func readConfig() (config, error) {
	// .env é opcional; variáveis já exportadas têm prioridade
	_ = godotenv.Load()

	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	u, err := url.Parse(c.CommerceAPIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("COMMERCE_API_URL must be an absolute URL")
	}
	if c.StatsEnabled && strings.TrimSpace(c.StatsRedisAddr) == "" {
		return errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if c.RateEnabled && c.RateRPS <= 0 {
		return errors.New("RATE_RPS must be > 0")
	}
	if c.RateEnabled && c.RateBurst <= 0 {
		return errors.New("RATE_BURST must be > 0")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.LowestPriceDays <= 0 {
		return errors.New("LOWEST_PRICE_DAYS must be > 0")
	}
	if c.BatchDebounce <= 0 {
		return errors.New("BATCH_DEBOUNCE must be > 0")
	}
	if c.CacheMaxSize <= 0 {
		return errors.New("CACHE_MAX_SIZE must be > 0")
	}
	if c.FetchMaxAttempts <= 0 {
		return errors.New("FETCH_MAX_ATTEMPTS must be > 0")
	}
	return nil
}
