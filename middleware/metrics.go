package middleware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// Metrics holds in-process call statistics for one model.
type Metrics struct {
	Model string

	TotalRequests   int64
	SuccessRequests int64
	ErrorRequests   int64

	TotalLatency time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration

	InputTokens  int64
	OutputTokens int64
}

// AverageLatency returns the average request latency.
func (m Metrics) AverageLatency() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.TotalRequests)
}

// ErrorRate returns the error rate (0.0 to 1.0).
func (m Metrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0.0
	}
	return float64(m.ErrorRequests) / float64(m.TotalRequests)
}

// StatsLLM records per-model call statistics. Unlike the OpenTelemetry
// instruments in the observability package these live in memory and are
// meant for CLI summaries and the stats endpoint.
type StatsLLM struct {
	backend llm.LLM

	mu      sync.RWMutex
	byModel map[string]*Metrics
}

var _ llm.LLM = (*StatsLLM)(nil)

// NewStatsLLM creates a new statistics decorator.
func NewStatsLLM(backend llm.LLM) *StatsLLM {
	return &StatsLLM{
		backend: backend,
		byModel: make(map[string]*Metrics),
	}
}

// Model returns the underlying backend's model.
func (s *StatsLLM) Model() string {
	return s.backend.Model()
}

// Snapshot returns a copy of the statistics, sorted by model.
func (s *StatsLLM) Snapshot() []Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Metrics, 0, len(s.byModel))
	for _, m := range s.byModel {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Reset clears all statistics.
func (s *StatsLLM) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byModel = make(map[string]*Metrics)
}

// Complete implements llm.LLM with statistics collection.
func (s *StatsLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	model := llm.BuildCallOptions(opts...).ModelFor(s.backend.Model())

	start := time.Now()
	response, err := s.backend.Complete(ctx, messages, opts...)
	latency := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byModel[model]
	if !ok {
		m = &Metrics{Model: model}
		s.byModel[model] = m
	}

	m.TotalRequests++
	m.TotalLatency += latency
	if m.MinLatency == 0 || latency < m.MinLatency {
		m.MinLatency = latency
	}
	if latency > m.MaxLatency {
		m.MaxLatency = latency
	}

	if err != nil {
		m.ErrorRequests++
		return nil, err
	}
	m.SuccessRequests++
	if usage, ok := llm.UsageFromMessage(response); ok {
		m.InputTokens += int64(usage.InputTokens)
		m.OutputTokens += int64(usage.OutputTokens)
	}
	return response, nil
}
