package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"storefront-pricing/pricing/application"
	"storefront-pricing/pricing/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	DefaultWaitTimeout  = 3 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// Invalidator é o recorte do cache usado pela rota administrativa.
type Invalidator interface {
	Invalidate(key string) bool
	InvalidatePattern(sub string) int
}

type HandlerOptions struct {
	Resolver    application.Resolver
	Aggregators *application.AggregatorSet
	Cache       Invalidator
	// WaitTimeout limita quanto uma consulta de menor preço espera o lote.
	WaitTimeout time.Duration
	// MaxBodyBytes limita o corpo dos POST; acima disso responde 413.
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

type Handler struct {
	resolver    application.Resolver
	aggs        *application.AggregatorSet
	cache       Invalidator
	waitTimeout time.Duration
	maxBody     int64
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		resolver:    opts.Resolver,
		aggs:        opts.Aggregators,
		cache:       opts.Cache,
		waitTimeout: opts.WaitTimeout,
		maxBody:     opts.MaxBodyBytes,
		validate:    validator.New(),
		log:         opts.Logger.With().Str("component", "pricing_handler").Logger(),
	}
}

type RouterOptions struct {
	// Middlewares rodam só nas rotas /v1 (admissão, concorrência).
	Middlewares    []func(http.Handler) http.Handler
	AllowedOrigins []string
	Metrics        http.Handler
}

// NewRouter monta as rotas do gateway de preços.
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Api-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		for _, mw := range opts.Middlewares {
			r.Use(mw)
		}
		r.Post("/quotes", h.HandleQuote)
		r.Get("/lowest-prices/{variantID}", h.HandleLowestPrice)
		r.Post("/cache/invalidate", h.HandleInvalidate)
	})
	return r
}

type quoteRequest struct {
	Product   *domain.Product `json:"product" validate:"required"`
	RegionID  string          `json:"region_id" validate:"max=64"`
	VariantID string          `json:"variant_id" validate:"max=128"`
}

// HandleQuote resolve o preço de uma variante a partir do produto enviado.
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quote := h.resolver.ResolvePrice(*req.Product, req.RegionID, req.VariantID)
	writeJSON(w, http.StatusOK, quote)
}

type lowestPriceResponse struct {
	VariantID   string                    `json:"variant_id"`
	LowestPrice *domain.LowestPriceRecord `json:"lowest_price"`
	Available   bool                      `json:"available"`
}

// HandleLowestPrice registra interesse na variante e espera o lote da janela.
// Falha do backend não é erro para o cliente: responde sem histórico.
func (h *Handler) HandleLowestPrice(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantID")
	q := r.URL.Query()
	currency, region := q.Get("currency"), q.Get("region")

	if err := h.validate.Var(variantID, "required,max=128"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid variant id")
		return
	}
	if err := h.validate.Var(currency, "omitempty,alpha,len=3"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid currency")
		return
	}
	if err := h.validate.Var(region, "max=64"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid region")
		return
	}

	agg, err := h.aggs.For(currency, region)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticket := agg.Register(variantID)
	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()

	rec, err := ticket.Wait(ctx)
	if err != nil {
		// cliente foi embora ou demorou demais: sai da janela se ela ainda acumula
		ticket.Release()
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			h.log.Warn().Err(err).Str("variant", variantID).Msg("lowest price unavailable")
		}
	}

	writeJSON(w, http.StatusOK, lowestPriceResponse{
		VariantID:   variantID,
		LowestPrice: rec,
		Available:   err == nil && rec != nil,
	})
}

type invalidateRequest struct {
	Key     string `json:"key" validate:"required_without=Pattern,max=512"`
	Pattern string `json:"pattern" validate:"required_without=Key,max=512"`
}

// HandleInvalidate força dados novos para uma chave exata ou para toda chave
// que contém o padrão.
func (h *Handler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "cache not configured")
		return
	}

	var req invalidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed := 0
	if req.Key != "" && h.cache.Invalidate(req.Key) {
		removed++
	}
	if req.Pattern != "" {
		removed += h.cache.InvalidatePattern(req.Pattern)
	}

	h.log.Info().Str("key", req.Key).Str("pattern", req.Pattern).Int("removed", removed).Msg("cache invalidated")
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// decode lê o corpo JSON até maxBody bytes. false: a resposta de erro já foi escrita.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
