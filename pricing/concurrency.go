package pricing

import (
	"net/http"
	"time"

	"storefront-pricing/pricing/application"
	"storefront-pricing/pricing/infra"

	"github.com/rs/zerolog"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Logger         zerolog.Logger
}

// ConcurrencyMiddleware limita requisições simultâneas. Max <= 0 desliga.
// Uma consulta de menor preço segura a vaga enquanto espera o lote.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	pool := infra.NewSlotPool(opts.Max)
	svc := application.ConcurrencyService{
		Pool:           pool,
		AcquireTimeout: opts.AcquireTimeout,
		Name:           "http_requests",
		Logger:         opts.Logger.With().Str("middleware", "concurrency").Logger(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				if r.Context().Err() != nil {
					// cliente desistiu enquanto esperava
					return
				}
				writeError(w, opts.RejectStatus, "too many requests in flight")
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
