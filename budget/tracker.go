package budget

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Cost represents a single cost record.
type Cost struct {
	RunID        string    `json:"run_id"`
	AgentType    string    `json:"agent_type"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalCost    float64   `json:"total_cost"`
	Estimated    bool      `json:"estimated"`
	Timestamp    time.Time `json:"timestamp"`
}

// Storage is the interface for cost storage backends.
type Storage interface {
	// Store saves a cost record.
	Store(ctx context.Context, cost *Cost) error

	// Query retrieves cost records. Empty filters match everything.
	Query(ctx context.Context, runID, agentType string) ([]*Cost, error)
}

// InMemoryStorage keeps cost records in a slice.
type InMemoryStorage struct {
	mu    sync.RWMutex
	costs []*Cost
}

// NewInMemoryStorage creates an empty in-memory store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{}
}

// Store saves a cost record.
func (s *InMemoryStorage) Store(ctx context.Context, cost *Cost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs = append(s.costs, cost)
	return nil
}

// Query retrieves cost records matching the filters.
func (s *InMemoryStorage) Query(ctx context.Context, runID, agentType string) ([]*Cost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Cost
	for _, cost := range s.costs {
		if runID != "" && cost.RunID != runID {
			continue
		}
		if agentType != "" && cost.AgentType != agentType {
			continue
		}
		results = append(results, cost)
	}
	return results, nil
}

// CostTracker prices calls against a PricingTable and records them.
//
// Example:
//
//	tracker := NewCostTracker(nil, NewPricingTable(nil))
//	cost, _ := tracker.Record(ctx, "run-1", "compliance", "gpt-4o", 1000, 500, false)
//	total, _ := tracker.RunCost(ctx, "run-1")
type CostTracker struct {
	storage Storage
	pricing *PricingTable
}

// NewCostTracker creates a new cost tracker. A nil storage uses memory; a
// nil pricing table uses the default rates.
func NewCostTracker(storage Storage, pricing *PricingTable) *CostTracker {
	if storage == nil {
		storage = NewInMemoryStorage()
	}
	if pricing == nil {
		pricing = NewPricingTable(nil)
	}
	return &CostTracker{storage: storage, pricing: pricing}
}

// Pricing returns the tracker's pricing table.
func (t *CostTracker) Pricing() *PricingTable {
	return t.pricing
}

// Record prices one call and stores the record.
func (t *CostTracker) Record(ctx context.Context, runID, agentType, model string, inputTokens, outputTokens int, estimated bool) (*Cost, error) {
	cost := &Cost{
		RunID:        runID,
		AgentType:    agentType,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalCost:    t.pricing.Cost(model, inputTokens, outputTokens),
		Estimated:    estimated,
		Timestamp:    time.Now().UTC(),
	}
	if err := t.storage.Store(ctx, cost); err != nil {
		return nil, err
	}
	return cost, nil
}

// RunCost returns the total cost recorded for a run.
func (t *CostTracker) RunCost(ctx context.Context, runID string) (float64, error) {
	costs, err := t.storage.Query(ctx, runID, "")
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, cost := range costs {
		total += cost.TotalCost
	}
	return total, nil
}

// AgentCost returns the total cost recorded for an agent type.
func (t *CostTracker) AgentCost(ctx context.Context, agentType string) (float64, error) {
	costs, err := t.storage.Query(ctx, "", agentType)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, cost := range costs {
		total += cost.TotalCost
	}
	return total, nil
}

// ModelCost is one row of a per-model breakdown.
type ModelCost struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// Breakdown returns per-model totals, most expensive first.
func (t *CostTracker) Breakdown(ctx context.Context, runID, agentType string) ([]ModelCost, error) {
	costs, err := t.storage.Query(ctx, runID, agentType)
	if err != nil {
		return nil, err
	}

	byModel := make(map[string]*ModelCost)
	for _, cost := range costs {
		row, ok := byModel[cost.Model]
		if !ok {
			row = &ModelCost{Model: cost.Model}
			byModel[cost.Model] = row
		}
		row.Calls++
		row.InputTokens += cost.InputTokens
		row.OutputTokens += cost.OutputTokens
		row.TotalCost += cost.TotalCost
	}

	results := make([]ModelCost, 0, len(byModel))
	for _, row := range byModel {
		results = append(results, *row)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].TotalCost != results[j].TotalCost {
			return results[i].TotalCost > results[j].TotalCost
		}
		return results[i].Model < results[j].Model
	})
	return results, nil
}
