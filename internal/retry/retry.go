// Package retry provides a small reusable retry policy shared by the
// checkpoint fetch and mobile recovery paths.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delays is the wait schedule between attempts. When attempts outnumber
	// entries the last entry repeats.
	Delays []time.Duration
	// Jitter randomizes each delay by up to +/- Jitter fraction (0.0 to 1.0).
	Jitter float64
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delays: []time.Duration{delay}}
}

// Schedule returns a policy whose attempts follow the given delays, one
// attempt per delay plus the initial one.
func Schedule(delays ...time.Duration) Policy {
	return Policy{MaxAttempts: len(delays) + 1, Delays: delays}
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is done.
// The returned error is the last error from fn wrapped with the attempt
// count, or the context error if the wait was interrupted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := p.wait(ctx, attempt-2); err != nil {
				return err
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (p Policy) wait(ctx context.Context, step int) error {
	d := p.delay(step)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) delay(step int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if step >= len(p.Delays) {
		step = len(p.Delays) - 1
	}
	d := p.Delays[step]
	if p.Jitter > 0 {
		f := float64(d) * p.Jitter * (rand.Float64()*2 - 1)
		d += time.Duration(f)
	}
	return d
}
