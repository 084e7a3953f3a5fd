package infra

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL     = 60 * time.Second
	DefaultCacheMaxSize = 100
)

type cacheEntry[T any] struct {
	data      T
	timestamp time.Time
	// ttl com que a entrada foi gravada; usado só pelo janitor.
	ttl time.Duration
}

// flight é um producer em voo. call é a chave no singleflight.Group: cada
// voo tem a sua, então só quem entrou por este registro compartilha este
// producer, e só ele remove o registro.
type flight struct {
	call      string
	startedAt time.Time
}

type cacheConfig struct {
	maxSize      int
	defaultTTL   time.Duration
	cleanupEvery time.Duration
	volatile     domain.KeyClassifier
	now          func() time.Time
	stats        domain.StatsStore
	log          zerolog.Logger
}

type CacheOption func(*cacheConfig)

func WithMaxSize(n int) CacheOption {
	return func(c *cacheConfig) { c.maxSize = n }
}

func WithDefaultTTL(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.defaultTTL = d }
}

func WithCacheCleanupEvery(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.cleanupEvery = d }
}

func WithVolatile(fn domain.KeyClassifier) CacheOption {
	return func(c *cacheConfig) { c.volatile = fn }
}

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) { c.now = now }
}

func WithCacheStats(s domain.StatsStore) CacheOption {
	return func(c *cacheConfig) { c.stats = s }
}

func WithCacheLogger(l zerolog.Logger) CacheOption {
	return func(c *cacheConfig) { c.log = l }
}

// DedupCache garante que, por chave, exista no máximo um producer em voo
// (todos os chamadores compartilham o mesmo resultado) e memoiza resultados
// de sucesso por um TTL informado pelo chamador, exceto para chaves voláteis.
//
// Ciclo de vida: criado uma vez por processo, nunca destruído, esvaziado
// via Invalidate/InvalidatePattern/Clear.
type DedupCache[T any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[T]
	pending map[string]*flight
	group   singleflight.Group
	seq     uint64

	cfg cacheConfig
}

func NewDedupCache[T any](opts ...CacheOption) *DedupCache[T] {
	cfg := cacheConfig{
		maxSize:      DefaultCacheMaxSize,
		defaultTTL:   DefaultCacheTTL,
		cleanupEvery: 5 * time.Minute,
		volatile:     VolatileSubstrings(DefaultVolatilePatterns...),
		now:          time.Now,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize <= 0 {
		cfg.maxSize = DefaultCacheMaxSize
	}
	if cfg.defaultTTL <= 0 {
		cfg.defaultTTL = DefaultCacheTTL
	}
	if cfg.volatile == nil {
		cfg.volatile = NeverVolatile
	}
	cfg.log = cfg.log.With().Str("component", "dedup_cache").Logger()

	return &DedupCache[T]{
		entries: make(map[string]*cacheEntry[T]),
		pending: make(map[string]*flight),
		cfg:     cfg,
	}
}

// Execute implementa domain.Executor.
//
// Ordem: entrada memoizada e mais nova que ttl -> valor do cache;
// producer em voo para a chave -> compartilha o resultado;
// senão invoca fn uma única vez. Erros nunca são memoizados e chegam a
// todos os que estão esperando.
//
// fn roda desacoplado do cancelamento de ctx: se o chamador desistir,
// recebe ctx.Err() e o producer segue até o fim, populando o cache.
func (c *DedupCache[T]) Execute(ctx context.Context, key string, fn domain.Producer[T], ttl time.Duration) (T, error) {
	var zero T
	if key == "" {
		return zero, domain.ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	volatile := c.cfg.volatile(key)

	c.mu.Lock()
	if !volatile {
		if ent, ok := c.entries[key]; ok && c.cfg.now().Sub(ent.timestamp) < ttl {
			c.mu.Unlock()
			c.record(domain.OutcomeHit, key)
			return ent.data, nil
		}
	}

	fl, joined := c.pending[key]
	if !joined {
		c.seq++
		fl = &flight{call: key + "#" + strconv.FormatUint(c.seq, 10), startedAt: c.cfg.now()}
		c.pending[key] = fl
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fl.call, func() (any, error) {
		v, err := fn(detached)
		c.settle(key, fl, v, err, ttl, volatile)
		return v, err
	})
	c.mu.Unlock()

	if joined {
		c.record(domain.OutcomeJoined, key)
	} else {
		c.record(domain.OutcomeMiss, key)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		// o canal tem buffer 1; o producer termina e grava sem ninguém esperando.
		return zero, ctx.Err()
	}
}

// settle roda ao fim do producer. Só grava se o registro pendente ainda
// for deste voo: um Invalidate no meio do caminho descarta a gravação.
func (c *DedupCache[T]) settle(key string, fl *flight, v T, err error, ttl time.Duration, volatile bool) {
	c.mu.Lock()
	current := c.pending[key] == fl
	if current {
		delete(c.pending, key)
	}
	stored := false
	evicted := ""
	if err == nil && current && !volatile {
		evicted = c.insertLocked(key, v, ttl)
		stored = true
	}
	took := c.cfg.now().Sub(fl.startedAt)
	c.mu.Unlock()

	if err != nil {
		c.cfg.log.Warn().Err(err).Str("key", key).Dur("took", took).Msg("producer failed")
		c.record(domain.OutcomeError, key)
		return
	}
	if evicted != "" {
		c.cfg.log.Debug().Str("evicted", evicted).Str("key", key).Msg("cache full, evicted oldest entry")
		c.record(domain.OutcomeEvicted, evicted)
	}
	if stored {
		c.record(domain.OutcomeStored, key)
	}
}

// insertLocked grava a entrada. Chave nova com o cache cheio expulsa a
// entrada mais antiga por timestamp de inserção. Retorna a chave expulsa.
func (c *DedupCache[T]) insertLocked(key string, v T, ttl time.Duration) string {
	evicted := ""
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.maxSize {
		var oldest time.Time
		for k, ent := range c.entries {
			if evicted == "" || ent.timestamp.Before(oldest) {
				evicted = k
				oldest = ent.timestamp
			}
		}
		delete(c.entries, evicted)
	}
	c.entries[key] = &cacheEntry[T]{data: v, timestamp: c.cfg.now(), ttl: ttl}
	return evicted
}

// Invalidate remove a entrada memoizada e o registro pendente da chave exata.
func (c *DedupCache[T]) Invalidate(key string) bool {
	c.mu.Lock()
	_, hadEntry := c.entries[key]
	fl, hadPending := c.pending[key]
	delete(c.entries, key)
	if hadPending {
		delete(c.pending, key)
		c.group.Forget(fl.call)
	}
	c.mu.Unlock()

	removed := hadEntry || hadPending
	if removed {
		c.record(domain.OutcomeInvalidated, key)
	}
	return removed
}

// InvalidatePattern remove toda entrada e todo registro pendente cuja chave
// contém sub. Retorna quantas chaves foram removidas. sub vazio não remove nada;
// use Clear.
func (c *DedupCache[T]) InvalidatePattern(sub string) int {
	if sub == "" {
		return 0
	}

	c.mu.Lock()
	keys := make(map[string]struct{})
	for k := range c.entries {
		if strings.Contains(k, sub) {
			keys[k] = struct{}{}
		}
	}
	for k := range c.pending {
		if strings.Contains(k, sub) {
			keys[k] = struct{}{}
		}
	}
	for k := range keys {
		delete(c.entries, k)
		if fl, ok := c.pending[k]; ok {
			delete(c.pending, k)
			c.group.Forget(fl.call)
		}
	}
	c.mu.Unlock()

	for k := range keys {
		c.record(domain.OutcomeInvalidated, k)
	}
	if len(keys) > 0 {
		c.cfg.log.Info().Str("pattern", sub).Int("removed", len(keys)).Msg("cache invalidated by pattern")
	}
	return len(keys)
}

// Clear esvazia o cache inteiro, incluindo registros pendentes.
func (c *DedupCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, fl := range c.pending {
		c.group.Forget(fl.call)
	}
	c.entries = make(map[string]*cacheEntry[T])
	c.pending = make(map[string]*flight)
}

func (c *DedupCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DedupCache[T]) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Cleanup remove entradas mais velhas que o ttl com que foram gravadas.
func (c *DedupCache[T]) Cleanup() int {
	now := c.cfg.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, ent := range c.entries {
		if now.Sub(ent.timestamp) >= ent.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor remove entradas expiradas periodicamente até ctx encerrar.
func (c *DedupCache[T]) StartJanitor(ctx DoneContext) {
	runEvery(ctx, c.cfg.cleanupEvery, func() {
		if n := c.Cleanup(); n > 0 {
			c.cfg.log.Debug().Int("removed", n).Msg("expired entries removed")
		}
	})
}

func (c *DedupCache[T]) record(outcome domain.Outcome, key string) {
	if c.cfg.stats == nil {
		return
	}
	_ = c.cfg.stats.Record(context.Background(), domain.StatsEvent{
		Scope:   domain.ScopeCache,
		Outcome: outcome,
		Key:     key,
		At:      c.cfg.now(),
	})
}
