package infra

import (
	"context"
	"testing"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPipe guarda os comandos do pipeline em vez de falar com um Redis.
type recordingPipe struct {
	redis.Pipeliner
	hashes  map[string]map[string]int64
	expires map[string]time.Duration
	execs   int
}

func (p *recordingPipe) HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd {
	if p.hashes[key] == nil {
		p.hashes[key] = make(map[string]int64)
	}
	p.hashes[key][field] += incr
	return redis.NewIntCmd(ctx)
}

func (p *recordingPipe) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	p.expires[key] = expiration
	return redis.NewBoolCmd(ctx)
}

func (p *recordingPipe) Exec(context.Context) ([]redis.Cmder, error) {
	p.execs++
	return nil, nil
}

type recordingRedis struct {
	redis.Cmdable
	pipe *recordingPipe
}

func (r *recordingRedis) Pipeline() redis.Pipeliner { return r.pipe }

func newRecordingRedis() *recordingRedis {
	return &recordingRedis{pipe: &recordingPipe{
		hashes:  make(map[string]map[string]int64),
		expires: make(map[string]time.Duration),
	}}
}

func TestRedisStatsStore_Record(t *testing.T) {
	rdb := newRecordingRedis()
	s := NewRedisStatsStore(rdb,
		WithStatsPrefix("pricing:stats:"),
		WithStatsTTL(time.Hour),
		WithStatsTrackKeys(true),
	)
	at := time.Date(2026, 3, 4, 10, 15, 30, 0, time.UTC)

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{
		Scope: domain.ScopeBatch, Outcome: domain.OutcomeDispatched, Key: "omnibus:a,b,c:pln::30", Size: 3, At: at,
	}))
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{
		Scope: domain.ScopeAdmission, Outcome: domain.OutcomeDenied, Method: "GET", Path: "/v1/quotes", At: at,
	}))

	h := rdb.pipe.hashes
	assert.Equal(t, int64(1), h["pricing:stats:total"]["batch:dispatched"])
	assert.Equal(t, int64(3), h["pricing:stats:total"]["batch:ids"])
	assert.Equal(t, int64(1), h["pricing:stats:total"]["admission:denied"])
	assert.Equal(t, int64(1), h["pricing:stats:minute:202603041015"]["batch:dispatched"])
	assert.Equal(t, int64(1), h["pricing:stats:route"]["GET /v1/quotes:denied"])
	assert.Equal(t, int64(1), h["pricing:stats:key:omnibus"]["batch:dispatched"])

	assert.Equal(t, time.Hour, rdb.pipe.expires["pricing:stats:minute:202603041015"])
	assert.Equal(t, time.Hour, rdb.pipe.expires["pricing:stats:key:omnibus"])
	_, totalExpires := rdb.pipe.expires["pricing:stats:total"]
	assert.False(t, totalExpires)
	assert.Equal(t, 2, rdb.pipe.execs)
}

func TestRedisStatsStore_NoBucket(t *testing.T) {
	rdb := newRecordingRedis()
	s := NewRedisStatsStore(rdb, WithStatsBucket(" NONE "))

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Scope: domain.ScopeCache, Outcome: domain.OutcomeHit, Key: "product:1"}))

	assert.Len(t, rdb.pipe.hashes, 1)
	assert.Equal(t, int64(1), rdb.pipe.hashes["pricing:stats:total"]["cache:hit"])
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{}))
}
