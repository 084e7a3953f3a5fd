package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultDebounce        = 50 * time.Millisecond
	DefaultLowestPriceTTL  = 5 * time.Minute
	DefaultLowestPriceDays = 30
	DefaultMaxContexts     = 32
	DefaultLookupMaxSize   = 1000
)

var ErrTooManyContexts = errors.New("too many pricing contexts")

// WindowState é o estado de uma janela de lote.
type WindowState int

const (
	StateIdle WindowState = iota
	StateAccumulating
	StateDispatching
	StateResolved
)

func (s WindowState) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateDispatching:
		return "dispatching"
	case StateResolved:
		return "resolved"
	default:
		return "idle"
	}
}

type AggregatorOptions struct {
	Fetcher domain.LowestPriceFetcher
	// Cache deduplica lotes com o mesmo conjunto de ids. nil chama o Fetcher direto.
	Cache domain.Executor[domain.LowestPriceTable]

	Currency string
	RegionID string
	Days     int

	Debounce time.Duration
	TTL      time.Duration
	// LookupMaxSize limita o lookup compartilhado; cheio, sai a variante
	// gravada há mais tempo.
	LookupMaxSize int

	// Slots limita quantas janelas despacham ao mesmo tempo.
	Slots ConcurrencyService

	Stats  domain.StatsStore
	Logger zerolog.Logger
}

// Aggregator junta os pedidos de "menor preço em N dias" feitos de forma
// independente (um por elemento da listagem) em uma única chamada por janela.
//
// Idle -> Accumulating no primeiro Register (timer fixo de debounce, não
// reiniciado) -> Dispatching quando o timer dispara -> Resolved quando a
// tabela volta e é mesclada no lookup compartilhado. Cada ticket relê a
// sua variante do lookup.
type Aggregator struct {
	opts AggregatorOptions
	log  zerolog.Logger

	mu        sync.Mutex
	current   *window
	inflight  int
	lookup    map[string]lookupEntry
	lookupSeq uint64
	closed    bool
}

type lookupEntry struct {
	rec *domain.LowestPriceRecord
	seq uint64
}

type window struct {
	id      string
	state   WindowState
	refs    map[string]int
	tickets []*Ticket
	timer   *time.Timer
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	if opts.Days <= 0 {
		opts.Days = DefaultLowestPriceDays
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultLowestPriceTTL
	}
	if opts.LookupMaxSize <= 0 {
		opts.LookupMaxSize = DefaultLookupMaxSize
	}
	opts.Currency = strings.ToLower(strings.TrimSpace(opts.Currency))
	opts.RegionID = strings.TrimSpace(opts.RegionID)

	return &Aggregator{
		opts: opts,
		log: opts.Logger.With().
			Str("component", "batch_aggregator").
			Str("currency", opts.Currency).
			Str("region", opts.RegionID).
			Logger(),
		lookup: make(map[string]lookupEntry),
	}
}

// BatchKey é a chave de cache de um lote: ids ordenados + moeda + região + dias.
// Dois lotes com o mesmo conjunto caem na mesma chave.
func BatchKey(ids []string, currency, regionID string, days int) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return fmt.Sprintf("omnibus:%s:%s:%s:%d", strings.Join(sorted, ","), currency, regionID, days)
}

// Register registra interesse no menor preço de uma variante. O Ticket
// resolve quando a janela em que entrou for despachada.
func (a *Aggregator) Register(variantID string) *Ticket {
	t := &Ticket{VariantID: variantID, agg: a, done: make(chan struct{})}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		t.resolve(nil, domain.ErrClosed)
		return t
	}
	if variantID == "" {
		t.resolve(nil, nil)
		return t
	}

	w := a.current
	if w == nil {
		w = &window{id: uuid.NewString(), state: StateAccumulating, refs: make(map[string]int)}
		w.timer = time.AfterFunc(a.opts.Debounce, func() { a.dispatch(w) })
		a.current = w
		a.log.Debug().Str("window", w.id).Msg("window opened")
	}
	w.refs[variantID]++
	w.tickets = append(w.tickets, t)
	t.win = w
	return t
}

// Lookup lê o lookup compartilhado. found=false: a variante ainda não foi
// resolvida por nenhum lote. rec nil com found=true: sem histórico.
func (a *Aggregator) Lookup(variantID string) (rec *domain.LowestPriceRecord, found bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ent, found := a.lookup[variantID]
	return ent.rec, found
}

func (a *Aggregator) LookupLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lookup)
}

// State devolve Accumulating se há janela aberta, Dispatching se há lote em
// voo, senão Idle.
func (a *Aggregator) State() WindowState {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.current != nil:
		return StateAccumulating
	case a.inflight > 0:
		return StateDispatching
	default:
		return StateIdle
	}
}

// Flush despacha a janela aberta agora, sem esperar o debounce, e retorna
// com o lote resolvido. Se o timer já tiver disparado, o despacho segue na
// goroutine do timer.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	w := a.current
	a.mu.Unlock()
	if w == nil {
		return
	}
	w.timer.Stop()
	a.dispatch(w)
}

// Close despacha o que estiver pendente e passa a recusar novos registros.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.Flush()
}

func (a *Aggregator) dispatch(w *window) {
	a.mu.Lock()
	if a.current != w || w.state != StateAccumulating {
		a.mu.Unlock()
		return
	}
	a.current = nil
	w.state = StateDispatching
	a.inflight++
	ids := make([]string, 0, len(w.refs))
	for id := range w.refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tickets := w.tickets
	a.mu.Unlock()

	key := BatchKey(ids, a.opts.Currency, a.opts.RegionID, a.opts.Days)
	a.record(domain.OutcomeDispatched, key, len(ids))
	log := a.log.With().Str("window", w.id).Int("variants", len(ids)).Logger()
	log.Debug().Int("registrations", len(tickets)).Msg("window dispatching")

	table, err := a.fetch(key, ids)

	var recs []*domain.LowestPriceRecord
	a.mu.Lock()
	if err == nil {
		// último lote com sucesso vence
		for _, id := range ids {
			a.storeLocked(id, table[id])
		}
		recs = make([]*domain.LowestPriceRecord, len(tickets))
		for i, t := range tickets {
			if ent, ok := a.lookup[t.VariantID]; ok {
				recs[i] = ent.rec
			} else {
				// lote maior que o lookup: a entrada já saiu
				recs[i] = table[t.VariantID]
			}
		}
	}
	w.state = StateResolved
	a.inflight--
	a.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("lowest price batch failed, treating as no historical data")
		a.record(domain.OutcomeError, key, len(ids))
	} else {
		a.record(domain.OutcomeResolved, key, len(ids))
	}
	for i, t := range tickets {
		if err != nil {
			t.resolve(nil, err)
			continue
		}
		t.resolve(recs[i], nil)
	}
}

// storeLocked grava no lookup. Variante nova com o lookup cheio expulsa a
// gravada há mais tempo.
func (a *Aggregator) storeLocked(id string, rec *domain.LowestPriceRecord) {
	if _, exists := a.lookup[id]; !exists && len(a.lookup) >= a.opts.LookupMaxSize {
		oldest := ""
		var oldestSeq uint64
		for k, ent := range a.lookup {
			if oldest == "" || ent.seq < oldestSeq {
				oldest, oldestSeq = k, ent.seq
			}
		}
		delete(a.lookup, oldest)
	}
	a.lookupSeq++
	a.lookup[id] = lookupEntry{rec: rec, seq: a.lookupSeq}
}

func (a *Aggregator) fetch(key string, ids []string) (domain.LowestPriceTable, error) {
	ctx := context.Background()
	release, ok := a.opts.Slots.Acquire(ctx)
	if !ok {
		return nil, domain.ErrSaturated
	}
	defer release()

	if a.opts.Fetcher == nil {
		return nil, errors.New("no lowest price fetcher configured")
	}
	q := domain.LowestPriceQuery{
		VariantIDs:   ids,
		CurrencyCode: a.opts.Currency,
		RegionID:     a.opts.RegionID,
		Days:         a.opts.Days,
	}
	producer := func(ctx context.Context) (domain.LowestPriceTable, error) {
		return a.opts.Fetcher.FetchLowestPrices(ctx, q)
	}
	if a.opts.Cache == nil {
		return producer(ctx)
	}
	return a.opts.Cache.Execute(ctx, key, producer, a.opts.TTL)
}

// release tira o ticket da janela ainda acumulando. Janela em despacho não é afetada.
func (a *Aggregator) release(t *Ticket) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := t.win
	if w == nil || w.state != StateAccumulating || a.current != w {
		return false
	}
	idx := -1
	for i, other := range w.tickets {
		if other == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	w.tickets = append(w.tickets[:idx], w.tickets[idx+1:]...)
	w.refs[t.VariantID]--
	if w.refs[t.VariantID] <= 0 {
		delete(w.refs, t.VariantID)
	}
	if len(w.tickets) == 0 {
		w.timer.Stop()
		w.state = StateIdle
		a.current = nil
		a.log.Debug().Str("window", w.id).Msg("window emptied before dispatch")
	}
	return true
}

func (a *Aggregator) record(outcome domain.Outcome, key string, size int) {
	if a.opts.Stats == nil {
		return
	}
	_ = a.opts.Stats.Record(context.Background(), domain.StatsEvent{
		Scope:   domain.ScopeBatch,
		Outcome: outcome,
		Key:     key,
		Size:    size,
		At:      time.Now(),
	})
}

// Ticket é o interesse de um elemento em uma variante.
type Ticket struct {
	VariantID string

	agg  *Aggregator
	win  *window
	done chan struct{}
	once sync.Once
	rec  *domain.LowestPriceRecord
	err  error
}

func (t *Ticket) Done() <-chan struct{} { return t.done }

// Result só é válido depois de Done. rec nil sem erro: sem histórico.
func (t *Ticket) Result() (*domain.LowestPriceRecord, error) {
	select {
	case <-t.done:
		return t.rec, t.err
	default:
		return nil, nil
	}
}

func (t *Ticket) Wait(ctx context.Context) (*domain.LowestPriceRecord, error) {
	select {
	case <-t.done:
		return t.rec, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release desfaz o interesse (ex.: elemento desmontado). Só tem efeito
// enquanto a janela acumula; um lote já em despacho segue normalmente.
func (t *Ticket) Release() {
	if t.agg != nil && t.agg.release(t) {
		t.resolve(nil, domain.ErrReleased)
	}
}

func (t *Ticket) resolve(rec *domain.LowestPriceRecord, err error) {
	t.once.Do(func() {
		t.rec, t.err = rec, err
		close(t.done)
	})
}

// AggregatorSet mantém um Aggregator por contexto (moeda, região), todos
// compartilhando o mesmo cache e fetcher.
type AggregatorSet struct {
	base        AggregatorOptions
	maxContexts int

	mu    sync.Mutex
	byCtx map[string]*setEntry
	seq   uint64
}

type setEntry struct {
	agg      *Aggregator
	lastUsed uint64
}

func NewAggregatorSet(base AggregatorOptions, maxContexts int) *AggregatorSet {
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}
	return &AggregatorSet{base: base, maxContexts: maxContexts, byCtx: make(map[string]*setEntry)}
}

// For devolve o Aggregator do contexto. Vazio usa a moeda/região padrão.
// Com o conjunto cheio, o contexto ocioso usado há mais tempo sai para dar
// lugar ao novo; ErrTooManyContexts só quando todos têm janela aberta ou
// lote em voo.
func (s *AggregatorSet) For(currency, regionID string) (*Aggregator, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	regionID = strings.TrimSpace(regionID)
	if currency == "" {
		currency = strings.ToLower(s.base.Currency)
	}
	if regionID == "" {
		regionID = s.base.RegionID
	}
	k := currency + "|" + regionID

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if ent, ok := s.byCtx[k]; ok {
		ent.lastUsed = s.seq
		return ent.agg, nil
	}
	if len(s.byCtx) >= s.maxContexts && !s.evictIdleLocked() {
		return nil, ErrTooManyContexts
	}
	opts := s.base
	opts.Currency = currency
	opts.RegionID = regionID
	a := NewAggregator(opts)
	s.byCtx[k] = &setEntry{agg: a, lastUsed: s.seq}
	return a, nil
}

// evictIdleLocked tira do conjunto o contexto ocioso usado há mais tempo.
// Ele não é fechado: quem ainda segura o ponteiro continua registrando.
func (s *AggregatorSet) evictIdleLocked() bool {
	victim := ""
	var oldest uint64
	for k, ent := range s.byCtx {
		if ent.agg.State() != StateIdle {
			continue
		}
		if victim == "" || ent.lastUsed < oldest {
			victim, oldest = k, ent.lastUsed
		}
	}
	if victim == "" {
		return false
	}
	s.byCtx[victim].agg.log.Debug().Msg("idle context evicted")
	delete(s.byCtx, victim)
	return true
}

func (s *AggregatorSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCtx)
}

func (s *AggregatorSet) Close() {
	s.mu.Lock()
	all := make([]*Aggregator, 0, len(s.byCtx))
	for _, ent := range s.byCtx {
		all = append(all, ent.agg)
	}
	s.mu.Unlock()

	for _, a := range all {
		a.Close()
	}
}
