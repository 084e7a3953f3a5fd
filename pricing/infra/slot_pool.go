package infra

import (
	"context"
	"sync"
	"sync/atomic"

	"storefront-pricing/pricing/domain"
)

// SlotPool é uma cota de vagas (requisições em voo, lotes em despacho,
// chamadas ao backend) sobre um channel com buffer.
type SlotPool struct {
	slots chan struct{}
	inUse atomic.Int64
}

var _ domain.SlotPool = (*SlotPool)(nil)

// NewSlotPool cria uma cota com `max` vagas; max <= 0 vira 1.
func NewSlotPool(max int) *SlotPool {
	if max <= 0 {
		max = 1
	}
	return &SlotPool{slots: make(chan struct{}, max)}
}

// Acquire espera uma vaga até ctx encerrar.
func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.slots <- struct{}{}:
		return p.taken(), true
	case <-ctx.Done():
		return nil, false
	}
}

// TryAcquire pega uma vaga só se houver uma livre agora.
func (p *SlotPool) TryAcquire() (func(), bool) {
	select {
	case p.slots <- struct{}{}:
		return p.taken(), true
	default:
		return nil, false
	}
}

func (p *SlotPool) InUse() int { return int(p.inUse.Load()) }

func (p *SlotPool) Cap() int { return cap(p.slots) }

// taken conta a vaga e devolve um release idempotente.
func (p *SlotPool) taken() func() {
	p.inUse.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			p.inUse.Add(-1)
			<-p.slots
		})
	}
}
