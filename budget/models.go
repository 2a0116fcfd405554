// Package budget prices LLM calls and tracks what a benchmark run spends.
//
// Components:
//   - PricingTable: per-model rates in currency units per 1K tokens
//   - CostTracker: per-call cost records with run, agent and model breakdowns
//   - Watch: threshold warnings against a per-run budget
//
// Cost is advisory. Unknown models price at zero and nothing here blocks a call.
package budget

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Rate is the price of one model, in currency units per 1K tokens.
type Rate struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// DefaultRates returns the built-in rate card.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		// OpenAI
		"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},

		// Anthropic
		"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},

		// Bedrock
		"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"anthropic.claude-3-5-haiku-20241022-v1:0":  {InputPer1K: 0.0008, OutputPer1K: 0.004},

		// Google
		"gemini-1.5-pro":   {InputPer1K: 0.00125, OutputPer1K: 0.005},
		"gemini-1.5-flash": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	}
}

// PricingTable maps model identifiers to rates.
//
// Example:
//
//	pricing := NewPricingTable(nil)
//	cost := pricing.Cost("gpt-4o", 1200, 300) // 0.006
type PricingTable struct {
	mu     sync.RWMutex
	rates  map[string]Rate
	logger *slog.Logger
}

// NewPricingTable creates a table from the default rates with overrides
// applied on top.
func NewPricingTable(overrides map[string]Rate) *PricingTable {
	rates := DefaultRates()
	for model, rate := range overrides {
		rates[model] = rate
	}
	return &PricingTable{
		rates:  rates,
		logger: slog.Default().With("component", "pricing"),
	}
}

// Lookup returns the rate for model. A "provider/model" identifier falls
// back to the bare model name.
func (p *PricingTable) Lookup(model string) (Rate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[model]; ok {
		return rate, true
	}
	if _, bare, ok := strings.Cut(model, "/"); ok {
		rate, found := p.rates[bare]
		return rate, found
	}
	return Rate{}, false
}

// Cost computes inputTokens/1000*inputRate + outputTokens/1000*outputRate.
// Unknown models cost 0. Negative token counts are treated as 0.
func (p *PricingTable) Cost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := p.Lookup(model)
	if !ok {
		p.logger.Debug("No pricing for model, costing at zero", "model", model)
		return 0
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K
}

// Set installs or replaces a model's rate.
func (p *PricingTable) Set(model string, rate Rate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[model] = rate
}

// Models returns all priced model identifiers, sorted.
func (p *PricingTable) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models := make([]string, 0, len(p.rates))
	for model := range p.rates {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
