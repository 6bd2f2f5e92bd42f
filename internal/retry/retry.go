// Package retry is the small internal backoff helper called out in spec §9:
// takes (operation, max_retries, base_delay, jitter) and returns nil on
// success or the last error, whose apperr kind decides whether to retry.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
)

// Options configures a Do call.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultOptions matches spec §5: max_retries=3, base=1s exponential, capped.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: true}
}

// Do runs op until it succeeds, op returns a non-retryable error, or the
// retry budget is exhausted. It sleeps delay = min(base*2^attempt, max),
// jittered into [0.5, 1.5] when Jitter is set.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperr.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxRetries {
			break
		}

		delay := Backoff(opts.BaseDelay, opts.MaxDelay, attempt, opts.Jitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Backoff computes delay = min(base*2^attempt, max), optionally jittered
// into [0.5, 1.5]x (spec §4.1 reconnect backoff and §5 retry backoff use
// the identical formula).
func Backoff(base, max time.Duration, attempt int, jitter bool) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	if jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}
