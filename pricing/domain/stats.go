package domain

import (
	"context"
	"time"
)

type Scope string

const (
	ScopeCache     Scope = "cache"
	ScopeBatch     Scope = "batch"
	ScopeAdmission Scope = "admission"
)

type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeMiss        Outcome = "miss"
	OutcomeJoined      Outcome = "joined"
	OutcomeStored      Outcome = "stored"
	OutcomeEvicted     Outcome = "evicted"
	OutcomeError       Outcome = "error"
	OutcomeInvalidated Outcome = "invalidated"
	OutcomeDispatched  Outcome = "dispatched"
	OutcomeResolved    Outcome = "resolved"
	OutcomeAllowed     Outcome = "allowed"
	OutcomeDenied      Outcome = "denied"
)

// StatsEvent é um evento de cache, de lote ou de admissão.
//
// Observação: cuidado com cardinalidade. Key pode ser uma chave de cache
// inteira; os sinks agrupam por prefixo.
type StatsEvent struct {
	Scope   Scope
	Outcome Outcome
	Key     string

	Method string
	Path   string

	// Size é o tamanho do lote (apenas ScopeBatch).
	Size int

	At time.Time
}

// StatsStore é a estratégia de persistência das estatísticas.
// Quem emite trata erro como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
