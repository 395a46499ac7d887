package ratelimit

import (
	"context"
	"testing"
	"time"

	"cryptogate/internal/market"
)

func TestAcquireWithinBudget(t *testing.T) {
	l := New("binance", 5, time.Minute, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if got := l.Remaining(); got != 0 {
		t.Errorf("remaining = %d, want 0", got)
	}
}

func TestAcquireBlocksUntilReset(t *testing.T) {
	l := New("binance", 2, 100*time.Millisecond, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("blocked acquire: %v", err)
	}
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Errorf("third acquire returned after %v, expected to wait for window reset", waited)
	}
}

func TestAcquireEmitsRateLimitHit(t *testing.T) {
	em := market.NewEmitter()
	hits := 0
	em.On(market.EventRateLimitHit, func(ev market.Event) {
		hits++
		payload, ok := ev.Payload.(market.RateLimitHit)
		if !ok {
			t.Errorf("payload type %T", ev.Payload)
			return
		}
		if payload.Wait <= 0 {
			t.Errorf("wait = %v", payload.Wait)
		}
	})
	l := New("kucoin", 1, 50*time.Millisecond, em)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if hits == 0 {
		t.Error("expected a rateLimitHit event")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := New("binance", 1, time.Minute, nil)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected context error for blocked acquire")
	}
}
