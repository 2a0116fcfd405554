package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// Router delegates each call to a backend chosen from the model name.
//
// A model of the form "provider/model" is sent to the backend registered
// under that provider name with the prefix stripped. Otherwise the longest
// registered model prefix wins (for example "claude" or "gpt-"). Calls
// that match nothing go to the default backend.
//
// Example:
//
//	router := NewRouter(openAI)
//	router.Register("anthropic", anthropic, "claude")
//	router.Register("ollama", ollama)
//	resp, err := router.Complete(ctx, messages, WithModel("ollama/llama3.1"))
type Router struct {
	fallback LLM
	named    map[string]LLM
	prefixes []prefixRoute
}

type prefixRoute struct {
	prefix  string
	backend LLM
}

// NewRouter creates a router with a default backend. fallback may be nil,
// in which case unmatched models are an error.
func NewRouter(fallback LLM) *Router {
	return &Router{
		fallback: fallback,
		named:    make(map[string]LLM),
	}
}

// Register adds a backend under a provider name, optionally claiming
// bare model names that start with one of the given prefixes.
func (r *Router) Register(name string, backend LLM, modelPrefixes ...string) {
	r.named[normalizeProvider(name)] = backend
	for _, prefix := range modelPrefixes {
		r.prefixes = append(r.prefixes, prefixRoute{prefix: strings.ToLower(prefix), backend: backend})
	}
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// Model returns the default backend's model.
func (r *Router) Model() string {
	if r.fallback == nil {
		return ""
	}
	return r.fallback.Model()
}

// Complete routes the call and forwards it.
func (r *Router) Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error) {
	options := BuildCallOptions(opts...)

	backend, model, err := r.Resolve(options.ModelFor(r.Model()))
	if err != nil {
		return nil, err
	}
	if model != "" {
		opts = append(opts, WithModel(model))
	}
	return backend.Complete(ctx, messages, opts...)
}

// Resolve returns the backend for model and the model name that backend
// should receive.
func (r *Router) Resolve(model string) (LLM, string, error) {
	if provider, rest, ok := strings.Cut(model, "/"); ok {
		if backend, found := r.named[normalizeProvider(provider)]; found {
			return backend, rest, nil
		}
	}

	lower := strings.ToLower(model)
	for _, route := range r.prefixes {
		if strings.HasPrefix(lower, route.prefix) {
			return route.backend, model, nil
		}
	}

	if r.fallback == nil {
		return nil, "", fmt.Errorf("no backend registered for model %q", model)
	}
	return r.fallback, model, nil
}

func normalizeProvider(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch normalized {
	case "google":
		return "gemini"
	case "aws":
		return "bedrock"
	default:
		return normalized
	}
}
