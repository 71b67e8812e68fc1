// Package resilience guards the persistence boundary of the verification
// core. Writes to the record, alert, and cache stores are retried with
// bounded exponential backoff and protected by a three-state circuit breaker
// so that a struggling database neither drops events silently nor takes the
// worker pool down with it.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Permanent wraps an error to mark it non-retryable. [Retry] stops
// immediately when fn returns a wrapped permanent error.
type Permanent struct {
	Err error
}

// Error implements the error interface.
func (p Permanent) Error() string { return p.Err.Error() }

// Unwrap exposes the wrapped error to errors.Is/As.
func (p Permanent) Unwrap() error { return p.Err }

// RetryConfig tunes [Retry]. Zero-value fields are replaced with defaults.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first. Default: 3.
	Attempts int

	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it. Default: 100ms.
	BaseDelay time.Duration

	// MaxDelay caps the per-retry delay. Default: 5s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// tries. It returns nil on the first success, the last error once attempts
// are exhausted, the wrapped error immediately when fn returns a
// [Permanent], and ctx.Err() when the context is cancelled while waiting.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt == cfg.Attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", cfg.Attempts, lastErr)
}
