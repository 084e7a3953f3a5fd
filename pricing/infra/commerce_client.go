package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const DefaultLowestPricePath = "/store/variants/lowest-prices"

type CommerceClientOptions struct {
	BaseURL         string
	LowestPricePath string
	PublishableKey  string

	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RPS <= 0 desliga o rate limit de saída.
	RPS   float64
	Burst int
	// Slots limita chamadas simultâneas ao backend. nil = sem limite.
	Slots domain.SlotPool

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// CommerceClient chama o endpoint de menor preço em lote do backend de commerce.
// Implementa domain.LowestPriceFetcher.
type CommerceClient struct {
	opts    CommerceClientOptions
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewCommerceClient(opts CommerceClientOptions) *CommerceClient {
	if opts.LowestPricePath == "" {
		opts.LowestPricePath = DefaultLowestPricePath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var lim *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &CommerceClient{
		opts:    opts,
		http:    hc,
		limiter: lim,
		log:     opts.Logger.With().Str("client", "commerce-api").Logger(),
	}
}

type lowestPriceRequest struct {
	VariantIDs   []string `json:"variant_ids"`
	CurrencyCode string   `json:"currency_code"`
	RegionID     string   `json:"region_id,omitempty"`
	Days         int      `json:"days"`
}

type lowestPriceEntry struct {
	Lowest30dAmount decimal.NullDecimal `json:"lowest_30d_amount"`
	CurrentAmount   decimal.NullDecimal `json:"current_amount"`
}

type lowestPriceResponse struct {
	Results map[string]*lowestPriceEntry `json:"results"`
}

// FetchLowestPrices faz uma chamada para todo o conjunto de ids, com retry
// exponencial (com jitter) apenas para falhas transitórias.
// Todo id pedido aparece na tabela; ids sem histórico ficam nil.
func (c *CommerceClient) FetchLowestPrices(ctx context.Context, q domain.LowestPriceQuery) (domain.LowestPriceTable, error) {
	if len(q.VariantIDs) == 0 {
		return domain.LowestPriceTable{}, nil
	}
	if q.Days <= 0 {
		q.Days = 30
	}

	body, err := json.Marshal(lowestPriceRequest{
		VariantIDs:   q.VariantIDs,
		CurrencyCode: q.CurrencyCode,
		RegionID:     q.RegionID,
		Days:         q.Days,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	requestID := uuid.NewString()
	log := c.log.With().Str("request_id", requestID).Int("variants", len(q.VariantIDs)).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff

	attempt := 0
	op := func() (*lowestPriceResponse, error) {
		attempt++
		resp, err := c.post(ctx, body, requestID)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	start := time.Now()
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Lowest price request failed, retrying")
		}),
	)
	if err != nil {
		log.Error().Err(err).Int("attempts", attempt).Msg("Lowest price request failed")
		return nil, err
	}

	table := make(domain.LowestPriceTable, len(q.VariantIDs))
	for _, id := range q.VariantIDs {
		ent := resp.Results[id]
		if ent == nil {
			table[id] = nil
			continue
		}
		table[id] = &domain.LowestPriceRecord{
			VariantID:       id,
			Lowest30dAmount: ent.Lowest30dAmount,
			CurrentAmount:   ent.CurrentAmount,
		}
	}

	log.Debug().Int("attempts", attempt).Dur("took", time.Since(start)).Msg("Fetched lowest prices")
	return table, nil
}

func (c *CommerceClient) post(ctx context.Context, body []byte, requestID string) (*lowestPriceResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.opts.Slots != nil {
		release, ok := c.opts.Slots.Acquire(ctx)
		if !ok {
			return nil, domain.ErrSaturated
		}
		defer release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.LowestPricePath, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.opts.PublishableKey != "" {
		req.Header.Set("x-publishable-api-key", c.opts.PublishableKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        errors.New(strings.TrimSpace(string(raw))),
		}
	}

	var out lowestPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return &out, nil
}
