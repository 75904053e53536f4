package bluesky

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy retries transient failures with exponential backoff and jitter.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultRetryPolicy makes five attempts starting one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    time.Second,
		MaxDelay:        time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. onRetry, if set, is called before each wait.
func (rp RetryPolicy) Execute(ctx context.Context, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) error {
	attempts := max(rp.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == attempts-1 {
			break
		}

		delay := rp.delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if IsRetryable(lastErr) && attempts > 1 {
		return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
	}
	return lastErr
}

func (rp RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= rp.Multiplier
	}
	if rp.MaxDelay > 0 && d > float64(rp.MaxDelay) {
		d = float64(rp.MaxDelay)
	}
	if rp.RandomizeFactor > 0 {
		d += d * rp.RandomizeFactor * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}
