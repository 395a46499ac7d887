package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptogate/internal/market"
)

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	e := New("binance", nil)
	calls := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 3, time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	em := market.NewEmitter()
	var attempts []int
	var terminal int
	em.On(market.EventRetryAttempt, func(ev market.Event) {
		payload := ev.Payload.(market.RetryAttempt)
		attempts = append(attempts, payload.Attempt)
	})
	em.On(market.EventError, func(ev market.Event) { terminal++ })

	e := New("binance", em)
	calls := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	}, 3, time.Millisecond, 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
	if len(attempts) != 3 {
		t.Errorf("retryAttempt events = %v, want 3 entries", attempts)
	}
	if terminal != 1 {
		t.Errorf("terminal error events = %d, want 1", terminal)
	}
}

func TestExecutePermanentShortCircuits(t *testing.T) {
	e := New("binance", nil)
	calls := 0
	cause := errors.New("bad credentials")
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	}, 5, time.Millisecond, 5*time.Millisecond)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error should wrap the cause: %v", err)
	}
	if !IsPermanent(err) {
		t.Error("error should carry the permanent marker")
	}
}

func TestExecuteStopsOnCancel(t *testing.T) {
	e := New("binance", nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := e.Execute(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	}, 100, 20*time.Millisecond, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls > 3 {
		t.Errorf("calls = %d, cancellation should stop the loop quickly", calls)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	prevFloor := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := Backoff(base, max, attempt)
		floor := base * time.Duration(1<<uint(attempt))
		if floor > max {
			floor = max
		}
		if d < floor {
			t.Errorf("attempt %d: delay %v below floor %v", attempt, d, floor)
		}
		if d > max+maxJitter {
			t.Errorf("attempt %d: delay %v above cap %v", attempt, d, max+maxJitter)
		}
		if floor < prevFloor {
			t.Errorf("floor shrank at attempt %d", attempt)
		}
		prevFloor = floor
	}
}
