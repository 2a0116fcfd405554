// Package storage provides the question-bank and result-storage
// collaborators used by the benchmark runner.
//
// Results are kept as one collection per (agent type, model, run id), each
// entry a ModelResult. Performance is kept as one BaselinePerformance record
// per (agent type, mode), merged in place after every completed run and never
// deleted. Three implementations are provided: in-memory, JSON files on disk
// and Redis.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// ErrNoQuestionBank is returned when no question bank exists for an agent.
var ErrNoQuestionBank = errors.New("no question bank found")

// QuestionBank reads the baseline questions of an agent.
type QuestionBank interface {
	// LoadQuestions returns the questions for agentType in bank order.
	// It returns an error wrapping ErrNoQuestionBank when the agent has none.
	LoadQuestions(ctx context.Context, agentType string) ([]agentqa.BaselineQuestion, error)
}

// ResultStore persists benchmark results and rolling performance records.
type ResultStore interface {
	// SaveModelResults writes the result collection of one model in one run,
	// replacing any earlier collection with the same key.
	SaveModelResults(ctx context.Context, agentType, model, runID string, results []agentqa.ModelResult) error

	// LoadModelResults reads a collection written by SaveModelResults.
	// A missing collection yields an empty slice.
	LoadModelResults(ctx context.Context, agentType, model, runID string) ([]agentqa.ModelResult, error)

	// UpsertBaselinePerformance merges update into the stored record for
	// (update.AgentType, update.Mode) and returns the merged record.
	UpsertBaselinePerformance(ctx context.Context, update agentqa.BaselinePerformance) (agentqa.BaselinePerformance, error)

	// GetBaselinePerformance returns the stored record, or nil if none exists.
	GetBaselinePerformance(ctx context.Context, agentType string, mode agentqa.Mode) (*agentqa.BaselinePerformance, error)
}

func noQuestionBank(agentType string) error {
	return fmt.Errorf("agent '%s': %w", agentType, ErrNoQuestionBank)
}

// questionFile is the on-disk shape of a question bank. Banks may be a bare
// list or an object with a questions field.
type questionFile struct {
	AgentType string                     `json:"agent_type" yaml:"agent_type"`
	Questions []agentqa.BaselineQuestion `json:"questions" yaml:"questions"`
}

// safeKey makes a model id usable as a file name or key segment.
func safeKey(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", "\\", "_", " ", "_").Replace(s)
}
