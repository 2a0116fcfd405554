package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures rate limiting behavior.
type RateLimiterConfig struct {
	// Rate is the number of calls allowed per second.
	// Default: 10
	Rate float64

	// Burst is the maximum burst size.
	// Default: 1
	Burst int

	// Wait blocks until a token is available. When false, calls over the
	// limit fail immediately with a *RateLimitError.
	Wait bool
}

// DefaultRateLimiterConfig returns a rate limiter config with sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:  10.0,
		Burst: 1,
		Wait:  true,
	}
}

// EveryInterval returns a config that admits one call per interval.
func EveryInterval(interval time.Duration) RateLimiterConfig {
	return RateLimiterConfig{
		Rate:  float64(time.Second) / float64(interval),
		Burst: 1,
		Wait:  true,
	}
}

// RateLimiterMetrics tracks rate limiter metrics.
type RateLimiterMetrics struct {
	mu               sync.RWMutex
	TotalRequests    int64
	AllowedRequests  int64
	RejectedRequests int64
	TotalWaitTime    time.Duration // Total time spent waiting for tokens
}

// RateLimitError is returned when the rate limit is exceeded.
type RateLimitError struct {
	Limit rate.Limit
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %.2f calls/s", float64(e.Limit))
}

// RateLimitedLLM wraps a backend with a token bucket limiter.
type RateLimitedLLM struct {
	backend llm.LLM
	limiter *rate.Limiter
	config  RateLimiterConfig
	metrics *RateLimiterMetrics
}

var _ llm.LLM = (*RateLimitedLLM)(nil)

// NewRateLimitedLLM creates a new rate limiter decorator.
func NewRateLimitedLLM(backend llm.LLM, config RateLimiterConfig) *RateLimitedLLM {
	if config.Rate <= 0 {
		config.Rate = 10.0
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	return &RateLimitedLLM{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
		config:  config,
		metrics: &RateLimiterMetrics{},
	}
}

// Model returns the underlying backend's model.
func (r *RateLimitedLLM) Model() string {
	return r.backend.Model()
}

// Metrics returns the rate limiter metrics.
func (r *RateLimitedLLM) Metrics() *RateLimiterMetrics {
	return r.metrics
}

// Complete implements llm.LLM with rate limiting.
func (r *RateLimitedLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	start := time.Now()

	r.metrics.mu.Lock()
	r.metrics.TotalRequests++
	r.metrics.mu.Unlock()

	if r.config.Wait {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	} else if !r.limiter.Allow() {
		r.metrics.mu.Lock()
		r.metrics.RejectedRequests++
		r.metrics.mu.Unlock()
		return nil, &RateLimitError{Limit: r.limiter.Limit()}
	}

	r.metrics.mu.Lock()
	r.metrics.AllowedRequests++
	r.metrics.TotalWaitTime += time.Since(start)
	r.metrics.mu.Unlock()

	return r.backend.Complete(ctx, messages, opts...)
}
