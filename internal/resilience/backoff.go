// Package resilience provides the shared failure taxonomy and the reusable
// retry/backoff policy applied uniformly to every backend connection.
//
// Each backend (recognition, generation, synthesis, video) gets its own
// [Policy] instance parameterised from configuration; call sites never roll
// their own retry loops.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default policy parameters, matching the reconnection behaviour of the
// backends this pipeline was built against.
const (
	defaultInitial     = 1 * time.Second
	defaultMax         = 30 * time.Second
	defaultMultiplier  = 2.0
	defaultMaxAttempts = 5
)

// Policy is a capped exponential backoff policy for one backend.
// The zero value is usable and falls back to the package defaults.
type Policy struct {
	// Initial is the delay before the first retry. Defaults to 1s.
	Initial time.Duration

	// Max caps the delay between retries. Defaults to 30s.
	Max time.Duration

	// Multiplier scales the delay after each attempt. Defaults to 2.
	Multiplier float64

	// MaxAttempts is the retry budget. Exceeding it escalates to a fatal
	// error naming the backend. Defaults to 5.
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = defaultInitial
	}
	if p.Max <= 0 {
		p.Max = defaultMax
	}
	if p.Multiplier <= 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	return p
}

// Backoff returns the delay to wait before retry attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Attempts returns the configured retry budget.
func (p Policy) Attempts() int { return p.withDefaults().MaxAttempts }

// Retry runs op under the policy for the named backend. It retries only on
// retryable classes, sleeping the backoff delay between attempts, and stops
// immediately on protocol or upstream errors or when ctx is cancelled.
// Connection errors get the full budget; a timeout is retried once, since a
// backend that is reachable but slow will not get faster on the third try.
//
// When the budget is exhausted, Retry returns a single *Error of class
// ClassConnection wrapping the last failure — callers see exactly one fatal
// "backend unavailable" error, not one per attempt.
func (p Policy) Retry(ctx context.Context, backend string, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	timeouts := 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		class := Classify(err)
		if !class.Retryable() {
			return NewError(class, backend, err)
		}
		if class == ClassTimeout {
			timeouts++
			if timeouts > 1 {
				return NewError(ClassTimeout, backend, err)
			}
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		slog.Warn("backend call failed, retrying",
			"backend", backend,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return NewError(ClassConnection, backend,
		fmt.Errorf("%s unavailable after %d attempts: %w", backend, p.MaxAttempts, lastErr))
}
