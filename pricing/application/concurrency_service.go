package application

import (
	"context"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/rs/zerolog"
)

// tryAcquirer é implementado por pools que sabem pegar vaga sem esperar.
type tryAcquirer interface {
	TryAcquire() (func(), bool)
}

// ConcurrencyService reserva vagas de uma cota: requisições simultâneas no
// gateway ou lotes em despacho no Aggregator.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// AcquireTimeout <= 0 espera até ctx encerrar.
	AcquireTimeout time.Duration
	// Name identifica a cota nos logs (ex.: "batch_dispatch").
	Name   string
	Logger zerolog.Logger
}

// Acquire retorna (release, ok). ok=false: nenhuma vaga foi reservada.
// Quando a cota está cheia, a espera é logada com a duração e o desfecho.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if tp, ok := s.Pool.(tryAcquirer); ok {
		if release, ok := tp.TryAcquire(); ok {
			return release, true
		}
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	start := time.Now()
	release, ok := s.Pool.Acquire(acqCtx)
	ev := s.Logger.Debug()
	if !ok {
		ev = s.Logger.Warn()
	}
	ev.Str("pool", s.Name).Dur("waited", time.Since(start)).Bool("acquired", ok).Msg("waited for slot")
	return release, ok
}
