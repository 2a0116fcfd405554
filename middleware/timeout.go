package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// TimeoutConfig configures timeout behavior.
type TimeoutConfig struct {
	// Timeout is the request timeout duration.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultTimeoutConfig returns a timeout config with sensible defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Timeout: 30 * time.Second,
	}
}

// TimeoutMetrics tracks timeout middleware metrics.
type TimeoutMetrics struct {
	mu                 sync.RWMutex
	TotalRequests      int64
	SuccessfulRequests int64
	TimedOutRequests   int64
	FailedRequests     int64 // Failed for reasons other than timeout
	TotalDuration      time.Duration
}

// NewTimeoutMetrics creates a new metrics instance.
func NewTimeoutMetrics() *TimeoutMetrics {
	return &TimeoutMetrics{}
}

func (m *TimeoutMetrics) record(duration time.Duration, success, timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.TotalDuration += duration
	switch {
	case success:
		m.SuccessfulRequests++
	case timedOut:
		m.TimedOutRequests++
	default:
		m.FailedRequests++
	}
}

// Counts returns total, successful and timed-out request counts.
func (m *TimeoutMetrics) Counts() (total, successful, timedOut int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TotalRequests, m.SuccessfulRequests, m.TimedOutRequests
}

// TimeoutError is returned when a call exceeds the configured timeout.
type TimeoutError struct {
	Model string
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to model '%s' timed out after %v", e.Model, e.After)
}

// Timeout reports true so callers can classify the error without a type switch.
func (e *TimeoutError) Timeout() bool { return true }

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// IsTimeout reports whether err is a deadline or any error in the chain
// that declares itself a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// TimeoutLLM wraps a backend with timeout protection.
//
// The call runs in its own goroutine so that backends which ignore context
// cancellation still return control to the caller on time.
type TimeoutLLM struct {
	backend llm.LLM
	config  TimeoutConfig
	metrics *TimeoutMetrics
}

var _ llm.LLM = (*TimeoutLLM)(nil)

// NewTimeoutLLM creates a new timeout decorator.
func NewTimeoutLLM(backend llm.LLM, config TimeoutConfig) *TimeoutLLM {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &TimeoutLLM{
		backend: backend,
		config:  config,
		metrics: NewTimeoutMetrics(),
	}
}

// Model returns the underlying backend's model.
func (t *TimeoutLLM) Model() string {
	return t.backend.Model()
}

// Metrics returns the timeout metrics.
func (t *TimeoutLLM) Metrics() *TimeoutMetrics {
	return t.metrics
}

// Complete implements llm.LLM with timeout protection.
func (t *TimeoutLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	start := time.Now()
	response, err := WithTimeout(ctx, t.config.Timeout, func(ctx context.Context) (*agentqa.Message, error) {
		return t.backend.Complete(ctx, messages, opts...)
	})

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		timeoutErr.Model = llm.BuildCallOptions(opts...).ModelFor(t.backend.Model())
	}
	t.metrics.record(time.Since(start), err == nil, timeoutErr != nil)
	return response, err
}

// WithTimeout runs fn under a deadline of d. When the deadline passes the
// result is a *TimeoutError, even if fn has not returned yet.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		value, err := fn(timeoutCtx)
		done <- result{value, err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return zero, &TimeoutError{After: d}
			}
			return zero, res.err
		}
		return res.value, nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{After: d}
	}
}
