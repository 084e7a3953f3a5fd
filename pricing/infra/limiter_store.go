package infra

import (
	"sync"
	"time"

	"storefront-pricing/pricing/domain"

	"golang.org/x/time/rate"
)

// LimiterStore entrega um token bucket (x/time/rate) por cliente do gateway.
// Clientes sem requisição há mais de idleTTL são esquecidos pelo janitor.
type LimiterStore struct {
	rps   rate.Limit
	burst int

	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time

	mu      sync.Mutex
	clients map[domain.Key]*clientBucket
}

type clientBucket struct {
	*rate.Limiter
	lastSeen time.Time
}

type LimiterOption func(*LimiterStore)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.cleanupEvery = d }
}

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(s *LimiterStore) { s.now = now }
}

func NewLimiterStore(rps float64, burst int, opts ...LimiterOption) *LimiterStore {
	s := &LimiterStore{
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
		clients:      make(map[domain.Key]*clientBucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LimiterStore) RPS() float64 { return float64(s.rps) }
func (s *LimiterStore) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore.
func (s *LimiterStore) Get(key domain.Key) domain.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.clients[key]
	if !ok {
		b = &clientBucket{Limiter: rate.NewLimiter(s.rps, s.burst)}
		s.clients[key] = b
	}
	b.lastSeen = s.now()
	return b
}

func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Cleanup esquece clientes inativos e devolve quantos saíram.
func (s *LimiterStore) Cleanup() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, b := range s.clients {
		if b.lastSeen.Before(cutoff) {
			delete(s.clients, k)
			n++
		}
	}
	return n
}

// StartJanitor roda Cleanup periodicamente até ctx encerrar.
func (s *LimiterStore) StartJanitor(ctx DoneContext) {
	runEvery(ctx, s.cleanupEvery, func() { s.Cleanup() })
}
