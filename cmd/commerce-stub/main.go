package main

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Backend de commerce falso para testar o gateway localmente: responde o
// endpoint de menor preço em lote com valores determinísticos por variante.

type stubConfig struct {
	ListenAddr string        `env:"LISTEN_ADDR" env-default:":9000"`
	Path       string        `env:"STUB_PATH" env-default:"/store/variants/lowest-prices"`
	Latency    time.Duration `env:"STUB_LATENCY" env-default:"80ms"`
	// FailEvery > 0 faz toda N-ésima chamada responder 503.
	FailEvery int `env:"STUB_FAIL_EVERY" env-default:"0"`
	// MissingEvery > 0 omite do resultado toda variante cujo hash cai no módulo.
	MissingEvery int `env:"STUB_MISSING_EVERY" env-default:"0"`
}

type lowestPriceRequest struct {
	VariantIDs   []string `json:"variant_ids"`
	CurrencyCode string   `json:"currency_code"`
	RegionID     string   `json:"region_id"`
	Days         int      `json:"days"`
}

type lowestPriceEntry struct {
	Lowest30dAmount decimal.Decimal `json:"lowest_30d_amount"`
	CurrentAmount   decimal.Decimal `json:"current_amount"`
}

type stub struct {
	cfg   stubConfig
	calls atomic.Int64
	log   zerolog.Logger
}

func newStub(cfg stubConfig, log zerolog.Logger) *stub {
	return &stub{cfg: cfg, log: log}
}

func (s *stub) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(s.cfg.Path, s.handleLowestPrices)
	r.Get("/calls", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{"calls": s.calls.Load()})
	})
	return r
}

func (s *stub) handleLowestPrices(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)

	var req lowestPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.VariantIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "variant_ids required"})
		return
	}

	if s.cfg.Latency > 0 {
		// jitter de até 50% para simular rede
		d := s.cfg.Latency + time.Duration(rand.Int64N(int64(s.cfg.Latency)/2+1))
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	if s.cfg.FailEvery > 0 && n%int64(s.cfg.FailEvery) == 0 {
		s.log.Warn().Int64("call", n).Msg("simulated failure")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
		return
	}

	results := make(map[string]*lowestPriceEntry, len(req.VariantIDs))
	for _, id := range req.VariantIDs {
		h := variantHash(id)
		if s.cfg.MissingEvery > 0 && h%uint32(s.cfg.MissingEvery) == 0 {
			continue
		}
		current := decimal.New(int64(1000+h%49000), -2)
		lowest := current.Mul(decimal.NewFromFloat(0.85)).Round(2)
		results[id] = &lowestPriceEntry{Lowest30dAmount: lowest, CurrentAmount: current}
	}

	s.log.Info().
		Int64("call", n).
		Int("variants", len(req.VariantIDs)).
		Str("currency", req.CurrencyCode).
		Str("region", req.RegionID).
		Str("request_id", r.Header.Get("X-Request-Id")).
		Msg("lowest prices served")
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func variantHash(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		With().Timestamp().Str("service", "commerce-stub").Logger()

	var cfg stubConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newStub(cfg, log).routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("path", cfg.Path).Dur("latency", cfg.Latency).Msg("commerce stub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
