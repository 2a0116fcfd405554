package agent

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// ErrUnknownAgent is wrapped in the ConfigError returned for an agent type
// that is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Registry holds agents by type.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Type()] = a
}

// Get returns the agent for agentType.
func (r *Registry) Get(agentType string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentType]
	if !ok {
		err := agentqa.NewConfigError(agentType, "", "agent is not registered")
		err.Err = ErrUnknownAgent
		return nil, err
	}
	return a, nil
}

// Types returns the registered agent types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch looks up agentType and dispatches prompt in mode.
func (r *Registry) Dispatch(ctx context.Context, agentType string, mode agentqa.Mode, prompt string, opts ...DispatchOption) (*agentqa.AgentResponse, error) {
	a, err := r.Get(agentType)
	if err != nil {
		return nil, err
	}
	return a.Dispatch(ctx, mode, prompt, opts...)
}
