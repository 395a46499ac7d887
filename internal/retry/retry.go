// Package retry wraps fallible operations with bounded exponential backoff
// and jitter. REST calls use small bounds; stream reconnection uses larger
// bounds with a longer delay ceiling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"cryptogate/internal/market"
)

// maxJitter bounds the random component added to each backoff delay.
const maxJitter = 250 * time.Millisecond

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. Credential and other
// programming errors go through here so the executor fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the non-retryable marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Executor retries operations for one venue and reports each attempt
// through the shared emitter.
type Executor struct {
	venue   string
	emitter *market.Emitter
}

// New creates an executor emitting retryAttempt events tagged with venue.
func New(venue string, emitter *market.Emitter) *Executor {
	return &Executor{venue: venue, emitter: emitter}
}

// Execute runs op, retrying transient failures up to maxRetries times with
// exponential backoff capped at maxDelay. Permanent errors and context
// cancellation stop retrying immediately. After maxRetries+1 total attempts
// the last error propagates and a terminal error event fires.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error, maxRetries int, baseDelay, maxDelay time.Duration) error {
	var last error
	for attempt := 0; ; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if IsPermanent(last) || ctx.Err() != nil {
			return last
		}
		if attempt >= maxRetries {
			break
		}
		delay := Backoff(baseDelay, maxDelay, attempt)
		if e.emitter != nil {
			e.emitter.Emit(market.Event{
				Type:    market.EventRetryAttempt,
				Venue:   e.venue,
				Err:     last,
				Payload: market.RetryAttempt{Attempt: attempt + 1, Delay: delay, Cause: last},
			})
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	err := fmt.Errorf("retries exhausted after %d attempts: %w", maxRetries+1, last)
	if e.emitter != nil {
		e.emitter.Emit(market.Event{Type: market.EventError, Venue: e.venue, Err: err})
	}
	return err
}

// Backoff computes the delay before retrying attempt (zero-based):
// base * 2^attempt plus random jitter, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := base * time.Duration(1<<uint(attempt))
	if max > 0 && d > max {
		d = max
	}
	return d + time.Duration(rand.Int63n(int64(maxJitter)))
}
