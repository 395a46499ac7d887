// Package ratelimit provides the per-venue fixed-window request budget used
// by every outbound REST call.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"cryptogate/internal/market"
)

// Limiter tracks one venue's request budget over a rolling reset window.
// Acquire blocks callers past the budget until the window resets; going over
// budget is never an error.
type Limiter struct {
	mu       sync.Mutex
	venue    string
	budget   int
	interval time.Duration
	count    int
	reset    time.Time
	emitter  *market.Emitter
}

// New creates a limiter allowing budget requests per interval for the venue.
func New(venue string, budget int, interval time.Duration, emitter *market.Emitter) *Limiter {
	return &Limiter{
		venue:    venue,
		budget:   budget,
		interval: interval,
		emitter:  emitter,
	}
}

// Acquire reserves one request slot, blocking until a slot is available or
// the context is cancelled. A rateLimitHit event fires whenever the caller
// is forced to wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if now.After(l.reset) {
			l.count = 0
			l.reset = now.Add(l.interval)
		}
		if l.count < l.budget {
			l.count++
			l.mu.Unlock()
			return nil
		}
		reset := l.reset
		l.mu.Unlock()

		wait := time.Until(reset)
		if wait < 0 {
			continue
		}
		if l.emitter != nil {
			l.emitter.Emit(market.Event{
				Type:    market.EventRateLimitHit,
				Venue:   l.venue,
				Payload: market.RateLimitHit{Wait: wait, Reset: reset},
			})
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining reports how many request slots are left in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Now().After(l.reset) {
		return l.budget
	}
	return l.budget - l.count
}
