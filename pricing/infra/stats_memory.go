package infra

import (
	"context"
	"strings"
	"sync"

	"storefront-pricing/pricing/domain"
)

// MemoryStatsStore conta eventos em memória, por escopo/resultado e por
// prefixo de chave (tudo antes do primeiro ':').
// Útil para testes e desenvolvimento. Não faz expiração.
type MemoryStatsStore struct {
	mu         sync.Mutex
	outcomes   map[string]int64
	byPrefix   map[string]int64
	batchedIDs int64
	batches    int64
	trackKeys  bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		outcomes: make(map[string]int64),
		byPrefix: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[outcomeField(ev.Scope, ev.Outcome)]++
	if ev.Scope == domain.ScopeBatch && ev.Outcome == domain.OutcomeDispatched {
		s.batches++
		s.batchedIDs += int64(ev.Size)
	}
	if s.trackKeys && ev.Key != "" {
		s.byPrefix[KeyPrefix(ev.Key)+":"+string(ev.Outcome)]++
	}
	return nil
}

// Count devolve quantos eventos (escopo, resultado) foram registrados.
func (s *MemoryStatsStore) Count(scope domain.Scope, outcome domain.Outcome) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[outcomeField(scope, outcome)]
}

// AvgBatchSize é a média de ids por lote despachado.
func (s *MemoryStatsStore) AvgBatchSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches == 0 {
		return 0
	}
	return float64(s.batchedIDs) / float64(s.batches)
}

func (s *MemoryStatsStore) ByPrefix() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byPrefix))
	for k, v := range s.byPrefix {
		out[k] = v
	}
	return out
}

func outcomeField(scope domain.Scope, outcome domain.Outcome) string {
	return string(scope) + ":" + string(outcome)
}

// KeyPrefix devolve o trecho antes do primeiro ':' (ex.: "omnibus", "cart").
func KeyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// MultiStats repassa o evento para todos os sinks e devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
