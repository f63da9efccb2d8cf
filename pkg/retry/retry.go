// Package retry implements exponential backoff helpers used by the broker
// client and the position reconciler.
package retry

import (
	"context"
	"math"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool
}

// Broker is the policy for Kiwoom REST calls: 3 attempts, 0.5s base.
func Broker() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Factor:       2,
	}
}

// Do runs fn until it succeeds, the error is not retryable, attempts run
// out, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions returning a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		t := time.NewTimer(Backoff(attempt+1, cfg.InitialDelay, cfg.MaxDelay, cfg.Factor))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}

// Backoff returns min(initial·factor^(attempt−1), max) for attempt ≥ 1.
// A non-positive max leaves the delay uncapped.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if factor <= 0 {
		factor = 2
	}
	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}
