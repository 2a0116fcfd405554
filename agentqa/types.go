package agentqa

import (
	"math"
	"time"
)

// TokenUsage counts tokens for a single call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	// Estimated is set when the backend reported no usage and the counts
	// were derived from text length.
	Estimated bool `json:"estimated"`
}

// PerformanceMetrics describes how a single agent call was served.
type PerformanceMetrics struct {
	ResponseTimeMs    int64      `json:"response_time_ms"`
	TokenUsage        TokenUsage `json:"token_usage"`
	RetrievalHits     int        `json:"retrieval_hits"`
	KnowledgeBaseHits int        `json:"knowledge_base_hits"`
}

// AgentResponse is the normalized answer produced by one agent call.
// It is created once and not modified afterwards.
type AgentResponse struct {
	AgentType                 string                 `json:"agent_type"`
	Query                     string                 `json:"query"`
	ResponseText              string                 `json:"response_text"`
	Confidence                float64                `json:"confidence"`
	Sources                   []string               `json:"sources"`
	Metadata                  map[string]interface{} `json:"metadata"`
	RequiresHumanVerification bool                   `json:"requires_human_verification"`
	Mode                      Mode                   `json:"mode"`
	Model                     string                 `json:"model"`
	PerformanceMetrics        PerformanceMetrics     `json:"performance_metrics"`
	Timestamp                 time.Time              `json:"timestamp"`
}

// BaselineQuestion is one item of an agent's question bank.
type BaselineQuestion struct {
	ID             string `json:"id" yaml:"id"`
	QuestionText   string `json:"question" yaml:"question"`
	ExpectedAnswer string `json:"expected_answer" yaml:"expected_answer"`
	Category       string `json:"category" yaml:"category"`
	Difficulty     string `json:"difficulty" yaml:"difficulty"`
}

// ResultStatus is the outcome of one (question, model) pair.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ModelResult is the graded, costed outcome of one (question, model) pair.
type ModelResult struct {
	RunID             string  `json:"run_id"`
	QuestionID        string  `json:"question_id"`
	Model             string  `json:"model"`
	Prompt            string  `json:"prompt"`
	AnswerText        string  `json:"answer_text"`
	Grade             float64 `json:"grade"`
	GradingConfidence float64 `json:"grading_confidence"`
	// ConfidenceSource is "judge" when the grader reported its own
	// confidence and "stand-in" when it was derived from the grade.
	ConfidenceSource string       `json:"confidence_source,omitempty"`
	ResponseTimeMs   int64        `json:"response_time_ms"`
	InputTokens      int          `json:"input_tokens"`
	OutputTokens     int          `json:"output_tokens"`
	TokensEstimated  bool         `json:"tokens_estimated"`
	Cost             float64      `json:"cost"`
	Attempts         int          `json:"attempts"`
	Status           ResultStatus `json:"status"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// NewErrorResult builds the failure entry recorded when a pair could not be
// answered. Grade and cost are zero.
func NewErrorResult(runID, questionID, model string, err error) ModelResult {
	return ModelResult{
		RunID:        runID,
		QuestionID:   questionID,
		Model:        model,
		Status:       StatusError,
		ErrorMessage: err.Error(),
		Timestamp:    time.Now().UTC(),
	}
}

// VerificationResult is the verdict of a cross-agent check.
type VerificationResult struct {
	ConsensusReached   bool      `json:"consensus_reached"`
	FinalConfidence    float64   `json:"final_confidence"`
	Discrepancies      []string  `json:"discrepancies"`
	Recommendation     string    `json:"recommendation"`
	PrimaryAgent       string    `json:"primary_agent"`
	VerifyingAgent     string    `json:"verifying_agent"`
	VerifierAgrees     bool      `json:"verifier_agrees"`
	VerifierConfidence float64   `json:"verifier_confidence"`
	Timestamp          time.Time `json:"timestamp"`
}

// RequiresHumanReview reports whether the answer must be escalated.
func (v *VerificationResult) RequiresHumanReview() bool {
	return !v.ConsensusReached
}

// CoverageAnalysis estimates how well a question bank exercises a set of
// capability areas.
type CoverageAnalysis struct {
	AgentType        string             `json:"agent_type"`
	Confidence       float64            `json:"confidence"`
	Coverage         float64            `json:"coverage"`
	Gaps             []string           `json:"gaps"`
	Strengths        []string           `json:"strengths"`
	Recommendations  []string           `json:"recommendations"`
	FunctionalityMap map[string]float64 `json:"functionality_map"`
	// Source is "judge" or "fallback".
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Clamp limits v to [0, 100]. NaN becomes 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
