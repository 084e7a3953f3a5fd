package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega os eventos em hashes do Redis para que várias
// instâncias do gateway compartilhem os números.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por prefixo.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "pricing:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record grava o evento em um único pipeline:
//
//	<prefix>:total                 escopo:resultado (cumulativo) e batch:ids
//	<prefix>:minute:<yyyymmddhhmm> série por minuto, expira em ttl
//	<prefix>:route                 "METHOD /path:resultado" da admissão
//	<prefix>:key:<prefixo>         por prefixo de chave, se trackKeys
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := outcomeField(ev.Scope, ev.Outcome)

	pipe := s.rdb.Pipeline()
	incr := func(key, f string, n int64, expires bool) {
		pipe.HIncrBy(ctx, key, f, n)
		if expires && s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	incr(s.prefix+":total", field, 1, false)
	if ev.Scope == domain.ScopeBatch && ev.Outcome == domain.OutcomeDispatched && ev.Size > 0 {
		incr(s.prefix+":total", "batch:ids", int64(ev.Size), false)
	}
	if s.bucket == "minute" {
		incr(fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504")), field, 1, true)
	}
	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		incr(s.prefix+":route", route+":"+string(ev.Outcome), 1, false)
	}
	if k := strings.TrimSpace(ev.Key); s.trackKeys && k != "" {
		incr(s.prefix+":key:"+KeyPrefix(k), field, 1, true)
	}

	_, err := pipe.Exec(ctx)
	return err
}
