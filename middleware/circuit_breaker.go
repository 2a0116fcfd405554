package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed (normal operation).
	StateClosed CircuitState = iota
	// StateOpen means the circuit is open (failing fast).
	StateOpen
	// StateHalfOpen means the circuit is testing if the service has recovered.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is the duration before attempting recovery from open state.
	// Default: 60s
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of successful calls in half-open state to close the circuit.
	// Default: 2
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns a circuit breaker config with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreakerError is returned when the circuit breaker is open.
type CircuitBreakerError struct {
	Model        string
	FailureCount int
}

// Error implements the error interface.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is OPEN (failed %d times)", e.Model, e.FailureCount)
}

// breakerState is the circuit for one model.
type breakerState struct {
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// CircuitBreakerLLM wraps a backend with one circuit per model, so a model
// that keeps failing does not block other models served by the same backend.
//
// State transitions:
//   - CLOSED -> OPEN: after FailureThreshold consecutive failures
//   - OPEN -> HALF_OPEN: after RecoveryTimeout
//   - HALF_OPEN -> CLOSED: after SuccessThreshold consecutive successes
//   - HALF_OPEN -> OPEN: on any failure
type CircuitBreakerLLM struct {
	backend  llm.LLM
	config   CircuitBreakerConfig
	mu       sync.Mutex
	circuits map[string]*breakerState
	rejected int64
	now      func() time.Time
}

var _ llm.LLM = (*CircuitBreakerLLM)(nil)

// NewCircuitBreakerLLM creates a new circuit breaker decorator.
func NewCircuitBreakerLLM(backend llm.LLM, config CircuitBreakerConfig) *CircuitBreakerLLM {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	return &CircuitBreakerLLM{
		backend:  backend,
		config:   config,
		circuits: make(map[string]*breakerState),
		now:      time.Now,
	}
}

// Model returns the underlying backend's model.
func (c *CircuitBreakerLLM) Model() string {
	return c.backend.Model()
}

// State returns the circuit state for model. An empty model means the
// backend's default model.
func (c *CircuitBreakerLLM) State(model string) CircuitState {
	if model == "" {
		model = c.backend.Model()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.circuits[model]; ok {
		return b.state
	}
	return StateClosed
}

// Rejected returns how many calls failed fast while a circuit was open.
func (c *CircuitBreakerLLM) Rejected() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// circuit must be called with the lock held.
func (c *CircuitBreakerLLM) circuit(model string) *breakerState {
	b, ok := c.circuits[model]
	if !ok {
		b = &breakerState{state: StateClosed}
		c.circuits[model] = b
	}
	return b
}

// Complete implements llm.LLM with circuit breaker protection.
func (c *CircuitBreakerLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	model := llm.BuildCallOptions(opts...).ModelFor(c.backend.Model())

	c.mu.Lock()
	b := c.circuit(model)
	if b.state == StateOpen {
		if c.now().Sub(b.lastFailureTime) >= c.config.RecoveryTimeout {
			b.state = StateHalfOpen
			b.successCount = 0
		} else {
			c.rejected++
			failures := b.failureCount
			c.mu.Unlock()
			return nil, &CircuitBreakerError{Model: model, FailureCount: failures}
		}
	}
	c.mu.Unlock()

	response, err := c.backend.Complete(ctx, messages, opts...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.onFailure(b)
		return nil, err
	}
	c.onSuccess(b)
	return response, nil
}

// onSuccess must be called with the lock held.
func (c *CircuitBreakerLLM) onSuccess(b *breakerState) {
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= c.config.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// onFailure must be called with the lock held.
func (c *CircuitBreakerLLM) onFailure(b *breakerState) {
	b.failureCount++
	b.lastFailureTime = c.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.successCount = 0
	case StateClosed:
		if b.failureCount >= c.config.FailureThreshold {
			b.state = StateOpen
		}
	}
}
