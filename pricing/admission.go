package pricing

import (
	"net/http"
	"strconv"
	"time"

	"storefront-pricing/pricing/application"
	"storefront-pricing/pricing/domain"

	"github.com/rs/zerolog"
)

type AdmissionOptions struct {
	Store domain.LimiterStore
	Stats domain.StatsStore
	// KeyFn identifica o cliente; nil usa KeyHeader ou o IP.
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Logger              zerolog.Logger
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

type admission struct {
	opts AdmissionOptions
	svc  application.AdmissionService
	log  zerolog.Logger
}

// AdmissionMiddleware aplica o token bucket do cliente antes das rotas de
// preço. Recusado: RejectStatus (429), Retry-After e corpo JSON.
func AdmissionMiddleware(opts AdmissionOptions) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	a := &admission{
		opts: opts,
		svc:  application.AdmissionService{Store: opts.Store, RetryAfter: opts.RetryAfter},
		log:  opts.Logger.With().Str("middleware", "admission").Logger(),
	}
	return a.wrap
}

func (a *admission) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := a.opts.KeyFn(r)
		if a.opts.AddRateLimitHeaders {
			a.describeLimit(w, client)
		}

		dec := a.svc.Decide(domain.Key(client))
		a.record(r, client, dec.Allowed)
		if dec.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		secs := int(dec.RetryAfter.Seconds())
		a.log.Debug().Str("client", client).Str("path", r.URL.Path).Int("retry_after", secs).Msg("price request rejected")
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, a.opts.RejectStatus, map[string]any{
			"error":       http.StatusText(a.opts.RejectStatus),
			"retry_after": secs,
		})
	})
}

func (a *admission) describeLimit(w http.ResponseWriter, client string) {
	h := w.Header()
	h.Set("X-RateLimit-Key", client)
	if ri, ok := a.opts.Store.(rateInfo); ok {
		h.Set("X-RateLimit-RPS", strconv.FormatFloat(ri.RPS(), 'f', -1, 64))
		h.Set("X-RateLimit-Burst", strconv.Itoa(ri.Burst()))
	}
}

func (a *admission) record(r *http.Request, client string, allowed bool) {
	if a.opts.Stats == nil {
		return
	}
	outcome := domain.OutcomeDenied
	if allowed {
		outcome = domain.OutcomeAllowed
	}
	_ = a.opts.Stats.Record(r.Context(), domain.StatsEvent{
		Scope:   domain.ScopeAdmission,
		Outcome: outcome,
		Key:     client,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
}
