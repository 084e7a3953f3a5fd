package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-pricing/pricing"
	"storefront-pricing/pricing/application"
	"storefront-pricing/pricing/domain"
	"storefront-pricing/pricing/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("pricing gateway stopped")
	}
}

func run(cfg config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	promStats, err := infra.NewPromStats(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	stats := infra.MultiStats{promStats}

	if cfg.StatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.StatsRedisAddr,
			Password: cfg.StatsRedisPassword,
			DB:       cfg.StatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.StatsPrefix),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
			infra.WithStatsTrackKeys(cfg.StatsTrackKeys),
		))
	}

	volatile := infra.DefaultVolatilePatterns
	if len(cfg.CacheVolatilePatterns) > 0 {
		volatile = cfg.CacheVolatilePatterns
	}
	cache := infra.NewDedupCache[domain.LowestPriceTable](
		infra.WithMaxSize(cfg.CacheMaxSize),
		infra.WithDefaultTTL(cfg.CacheDefaultTTL),
		infra.WithCacheCleanupEvery(cfg.CacheCleanupEvery),
		infra.WithVolatile(infra.VolatileSubstrings(volatile...)),
		infra.WithCacheStats(stats),
		infra.WithCacheLogger(log),
	)
	cache.StartJanitor(ctx)

	client := infra.NewCommerceClient(infra.CommerceClientOptions{
		BaseURL:         cfg.CommerceAPIURL,
		LowestPricePath: cfg.CommerceLowestPath,
		PublishableKey:  cfg.CommercePublishableKey,
		Timeout:         cfg.FetchTimeout,
		MaxAttempts:     cfg.FetchMaxAttempts,
		RPS:             cfg.FetchRPS,
		Burst:           cfg.FetchBurst,
		Slots:           infra.NewSlotPool(cfg.FetchMaxConcurrent),
		Logger:          log,
	})

	aggs := application.NewAggregatorSet(application.AggregatorOptions{
		Fetcher:  client,
		Cache:    cache,
		Currency: cfg.CurrencyCode,
		RegionID: cfg.RegionID,
		Days:     cfg.LowestPriceDays,
		Debounce: cfg.BatchDebounce,
		TTL:      cfg.BatchTTL,
		Slots: application.ConcurrencyService{
			Pool:   infra.NewSlotPool(cfg.BatchMaxDispatch),
			Name:   "batch_dispatch",
			Logger: log,
		},
		LookupMaxSize: cfg.BatchLookupSize,
		Stats:         stats,
		Logger:        log,
	}, cfg.BatchMaxContexts)
	defer aggs.Close()

	h := pricing.NewHandler(pricing.HandlerOptions{
		Resolver:     application.Resolver{CurrencySuffix: cfg.CurrencySuffix},
		Aggregators:  aggs,
		Cache:        cache,
		WaitTimeout:  cfg.BatchWaitTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       log,
	})

	mws := []func(http.Handler) http.Handler{pricing.MetricsMiddleware(reg)}
	if cfg.RateEnabled {
		limiters := infra.NewLimiterStore(cfg.RateRPS, cfg.RateBurst)
		limiters.StartJanitor(ctx)
		mws = append(mws, pricing.AdmissionMiddleware(pricing.AdmissionOptions{
			Store:               limiters,
			Stats:               stats,
			KeyHeader:           cfg.RateKeyHeader,
			TrustXForwardedFor:  cfg.TrustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			RetryAfter:          cfg.RetryAfter,
			AddRateLimitHeaders: cfg.AddHeaders,
			Logger:              log,
		}))
	}
	mws = append(mws, pricing.ConcurrencyMiddleware(pricing.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.ConcurrencyTimeout,
		Logger:         log,
	}))

	router := pricing.NewRouter(h, pricing.RouterOptions{
		Middlewares:    mws,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("commerce", cfg.CommerceAPIURL).
		Str("currency", cfg.CurrencyCode).
		Str("region", cfg.RegionID).
		Msg("pricing gateway listening")
	log.Info().
		Bool("enabled", cfg.RateEnabled).
		Float64("rps", cfg.RateRPS).
		Int("burst", cfg.RateBurst).
		Str("key_header", cfg.RateKeyHeader).
		Bool("trust_xff", cfg.TrustXFF).
		Msg("admission")
	log.Info().
		Dur("debounce", cfg.BatchDebounce).
		Dur("ttl", cfg.BatchTTL).
		Int("cache_max", cfg.CacheMaxSize).
		Strs("volatile", volatile).
		Bool("redis_stats", cfg.StatsEnabled).
		Msg("batching")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
