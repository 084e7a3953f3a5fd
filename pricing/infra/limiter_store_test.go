package infra

import (
	"context"
	"testing"
	"time"

	"storefront-pricing/pricing/domain"
)

func TestLimiterStore_GetSameKeyReturnsSameLimiter(t *testing.T) {
	s := NewLimiterStore(10, 1)

	l1 := s.Get(domain.Key("client-a"))
	l2 := s.Get(domain.Key("client-a"))
	if l1 != l2 {
		t.Fatalf("expected same limiter for same client")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 tracked client, got %d", s.Len())
	}
}

func TestLimiterStore_LowBurstRejectsSecondImmediateAllow(t *testing.T) {
	s := NewLimiterStore(0.02, 1)

	lim := s.Get(domain.Key("client-a"))
	if !lim.Allow() {
		t.Fatalf("expected first Allow to be true")
	}
	if lim.Allow() {
		t.Fatalf("expected second immediate Allow to be false (burst=1)")
	}
	if !s.Get(domain.Key("client-b")).Allow() {
		t.Fatalf("expected another client to have its own bucket")
	}
}

func TestLimiterStore_CleanupRemovesIdleClients(t *testing.T) {
	clock := newFakeClock()
	s := NewLimiterStore(10, 1, WithIdleTTL(time.Minute), WithCleanupEvery(0), WithLimiterClock(clock.Now))

	before := s.Get(domain.Key("client-a"))
	clock.Advance(30 * time.Second)
	s.Get(domain.Key("client-b"))
	clock.Advance(45 * time.Second)

	if n := s.Cleanup(); n != 1 {
		t.Fatalf("expected 1 idle client removed, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected client-b to survive, got %d clients", s.Len())
	}

	after := s.Get(domain.Key("client-a"))
	if before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}

func TestLimiterStore_JanitorStopsWithContext(t *testing.T) {
	s := NewLimiterStore(10, 1, WithIdleTTL(time.Nanosecond), WithCleanupEvery(time.Millisecond))
	s.Get(domain.Key("client-a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx)

	deadline := time.Now().Add(time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected janitor to remove idle client")
		}
		time.Sleep(time.Millisecond)
	}
}
