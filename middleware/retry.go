// Package middleware provides reusable decorators for LLM backends.
//
// Each decorator wraps an llm.LLM and is itself an llm.LLM, so they stack:
//
//	backend := middleware.NewCircuitBreakerLLM(
//	    middleware.NewTimeoutLLM(openAI, middleware.TimeoutConfig{Timeout: 30 * time.Second}),
//	    middleware.DefaultCircuitBreakerConfig(),
//	)
//
// Retries are not a decorator. Callers that own the retry policy use Retry
// so each attempt is measured and costed on its own.
package middleware

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors except context cancellation trigger retries.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns a retry config with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	return c
}

// NotTimeout is a ShouldRetry predicate that refuses to retry timeouts.
func NotTimeout(err error) bool {
	return !IsTimeout(err)
}

// Retry calls fn until it succeeds, the attempts are exhausted, ShouldRetry
// rejects the error, or ctx is done. It returns the number of attempts made.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context, attempt int) error) (int, error) {
	config = config.withDefaults()

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, err
		}
		if config.ShouldRetry != nil && !config.ShouldRetry(err) {
			return attempt, err
		}

		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
			backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return config.MaxAttempts, fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}
