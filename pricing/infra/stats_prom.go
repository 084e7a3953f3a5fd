package infra

import (
	"context"

	"storefront-pricing/pricing/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PromStats expõe os eventos como métricas Prometheus.
type PromStats struct {
	events    *prometheus.CounterVec
	batchSize prometheus.Histogram
}

// NewPromStats registra os coletores em reg. Use um registry próprio em testes.
func NewPromStats(reg prometheus.Registerer) (*PromStats, error) {
	p := &PromStats{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing",
			Name:      "events_total",
			Help:      "Cache, batch and admission events by outcome.",
		}, []string{"scope", "outcome", "prefix"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricing",
			Name:      "batch_size",
			Help:      "Number of variant ids per dispatched batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}
	for _, c := range []prometheus.Collector{p.events, p.batchSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PromStats) Record(_ context.Context, ev domain.StatsEvent) error {
	prefix := ""
	if ev.Scope == domain.ScopeCache || ev.Scope == domain.ScopeBatch {
		prefix = KeyPrefix(ev.Key)
	}
	p.events.WithLabelValues(string(ev.Scope), string(ev.Outcome), prefix).Inc()
	if ev.Scope == domain.ScopeBatch && ev.Outcome == domain.OutcomeDispatched {
		p.batchSize.Observe(float64(ev.Size))
	}
	return nil
}
