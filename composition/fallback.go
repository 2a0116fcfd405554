// Package composition combines LLM backends.
package composition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// FallbackLLM tries backends in order until one succeeds.
//
// The first backend receives the call options unchanged. Later backends
// serve the call with their own default model, since a model name chosen
// for one provider rarely exists at another.
type FallbackLLM struct {
	backends []llm.LLM
}

var _ llm.LLM = (*FallbackLLM)(nil)

// NewFallbackLLM creates a fallback chain. primary is tried first.
func NewFallbackLLM(primary llm.LLM, fallbacks ...llm.LLM) (*FallbackLLM, error) {
	if primary == nil {
		return nil, errors.New("fallback chain requires a primary backend")
	}
	return &FallbackLLM{backends: append([]llm.LLM{primary}, fallbacks...)}, nil
}

// Model returns the primary backend's default model.
func (f *FallbackLLM) Model() string {
	return f.backends[0].Model()
}

// Complete calls each backend in turn. The response of a fallback backend
// carries fallback_model and fallback_attempt metadata.
func (f *FallbackLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	var failures []string
	var lastErr error

	for i, backend := range f.backends {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fallback cancelled at attempt %d: %w", i+1, err)
		}

		callOpts := opts
		if i > 0 {
			callOpts = append(append([]llm.CallOption{}, opts...), llm.WithModel(""))
		}
		response, err := backend.Complete(ctx, messages, callOpts...)
		if err == nil {
			if i > 0 {
				response.WithMetadata("fallback_model", backend.Model()).
					WithMetadata("fallback_attempt", i+1)
			}
			return response, nil
		}

		lastErr = err
		failures = append(failures, fmt.Sprintf("backend %d (%s): %v", i+1, backend.Model(), err))
	}

	return nil, fmt.Errorf("all %d backends failed: %s: %w", len(f.backends), strings.Join(failures, "; "), lastErr)
}

// Backends returns the chain in call order.
func (f *FallbackLLM) Backends() []llm.LLM {
	return f.backends
}
