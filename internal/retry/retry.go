// Package retry polls a contended resource with exponential backoff.
//
// It exists for lock acquisition only. Toolchain operations (key generation,
// signing, store mutation) are never retried: their failures abort the run.
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxAttempts:    50,
//	    InitialBackoff: 20 * time.Millisecond,
//	    MaxBackoff:     time.Second,
//	}, tryLock, func(err error) bool {
//	    return errors.Is(err, ErrContended)
//	})
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config defines the polling behavior.
//
// The zero value is not usable; MaxAttempts and InitialBackoff must be set.
type Config struct {
	// MaxAttempts is the maximum number of calls to fn. Must be greater than 0.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt. Each further wait
	// doubles it.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration
}

// ShouldRetryFunc decides whether an error is worth another attempt.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("retry: MaxAttempts must be positive, got %d", cfg.MaxAttempts)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("gave up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Backoff returns the wait before the given attempt (1-based):
// InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return backoff
}
