package storage

import (
	"context"
	"sync"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

type resultKey struct {
	agentType, model, runID string
}

type baselineKey struct {
	agentType string
	mode      agentqa.Mode
}

// InMemoryStore keeps questions, results and baselines in process memory.
// It is safe for concurrent use.
//
// Example:
//
//	store := storage.NewInMemoryStore()
//	store.SetQuestions("compliance", questions)
//	runner := benchmark.NewRunner(registry, store, store, grader, tracker)
type InMemoryStore struct {
	mu        sync.RWMutex
	questions map[string][]agentqa.BaselineQuestion
	results   map[resultKey][]agentqa.ModelResult
	baselines map[baselineKey]agentqa.BaselinePerformance
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		questions: make(map[string][]agentqa.BaselineQuestion),
		results:   make(map[resultKey][]agentqa.ModelResult),
		baselines: make(map[baselineKey]agentqa.BaselinePerformance),
	}
}

// SetQuestions installs the question bank of agentType.
func (s *InMemoryStore) SetQuestions(agentType string, questions []agentqa.BaselineQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[agentType] = append([]agentqa.BaselineQuestion(nil), questions...)
}

// LoadQuestions implements QuestionBank.
func (s *InMemoryStore) LoadQuestions(ctx context.Context, agentType string) ([]agentqa.BaselineQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions, ok := s.questions[agentType]
	if !ok {
		return nil, noQuestionBank(agentType)
	}
	return append([]agentqa.BaselineQuestion(nil), questions...), nil
}

// SaveModelResults implements ResultStore.
func (s *InMemoryStore) SaveModelResults(ctx context.Context, agentType, model, runID string, results []agentqa.ModelResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultKey{agentType, model, runID}] = append([]agentqa.ModelResult(nil), results...)
	return nil
}

// LoadModelResults implements ResultStore.
func (s *InMemoryStore) LoadModelResults(ctx context.Context, agentType, model, runID string) ([]agentqa.ModelResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]agentqa.ModelResult{}, s.results[resultKey{agentType, model, runID}]...), nil
}

// UpsertBaselinePerformance implements ResultStore.
func (s *InMemoryStore) UpsertBaselinePerformance(ctx context.Context, update agentqa.BaselinePerformance) (agentqa.BaselinePerformance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := baselineKey{update.AgentType, update.Mode}
	var existing *agentqa.BaselinePerformance
	if current, ok := s.baselines[key]; ok {
		existing = &current
	}
	merged := agentqa.MergeBaseline(existing, update)
	s.baselines[key] = merged
	return merged, nil
}

// GetBaselinePerformance implements ResultStore.
func (s *InMemoryStore) GetBaselinePerformance(ctx context.Context, agentType string, mode agentqa.Mode) (*agentqa.BaselinePerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current, ok := s.baselines[baselineKey{agentType, mode}]
	if !ok {
		return nil, nil
	}
	return &current, nil
}
