// Package retry provides exponential-backoff helpers for the pipeline's
// long-lived retry loops; the observer publisher's reconnect loop uses
// Backoff.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff produces successive delays: exponential growth from Initial up to
// Max, with full jitter applied to each delay. The zero value is not usable;
// construct with the fields set.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempt int
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.attempt < 62 {
		b.attempt++
	}
	// Full jitter: uniform over (0, d].
	return time.Duration(rand.Int63n(int64(d))) + 1
}

// Reset returns the backoff to its initial delay. Call after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for the next backoff delay or until ctx is cancelled,
// whichever comes first. Returns ctx.Err when cancelled.
func (b *Backoff) Sleep(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config controls Do.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// ShouldRetry classifies errors as retryable. When nil, every non-nil
	// error is retried.
	ShouldRetry func(err error) bool
}

// Do calls fn up to cfg.MaxAttempts times, backing off between attempts.
// It stops early when ctx is cancelled, fn returns nil, or ShouldRetry
// rejects the error. The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	b := &Backoff{Initial: cfg.InitialDelay, Max: cfg.MaxDelay}
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			if err := b.Sleep(ctx); err != nil {
				return lastErr
			}
		}
	}

	return lastErr
}
