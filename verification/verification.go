// Package verification decides whether an agent's answer can stand without
// human review by asking a second agent to assess it independently.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/evaluation"
	"github.com/F8ai/formul8-platform-sub006/middleware"
)

const (
	// ConsensusDelta is the largest confidence gap that still counts as
	// agreement.
	ConsensusDelta = 20.0
	// DisagreementPenalty is subtracted from the lower confidence when the
	// agents do not reach consensus.
	DisagreementPenalty = 15.0
	// FailurePenalty is subtracted from the primary confidence when the
	// verification call fails.
	FailurePenalty = 30.0

	RecommendationVerified = "verified by cross-agent validation"
	RecommendationEscalate = "requires human verification due to agent disagreement"

	FailureDiscrepancy = "Verification process failed"
)

const verdictSchema = `{
	"type": "object",
	"required": ["agrees", "confidence"],
	"properties": {
		"agrees": {"type": "boolean"},
		"confidence": {"type": "number"},
		"discrepancies": {"type": "array", "items": {"type": "string"}}
	}
}`

var verdictParser = evaluation.MustStructuredParser("verifier", verdictSchema)

// Verdict is the verifying agent's assessment.
type Verdict struct {
	Agrees        bool     `json:"agrees"`
	Confidence    float64  `json:"confidence"`
	Discrepancies []string `json:"discrepancies"`
}

// Decide applies the consensus rule:
//
//	consensus = agrees && |verifier - primary| < 20
//	final     = min(primary, verifier)           on consensus
//	final     = max(0, min(primary, verifier) - 15) otherwise
//
// Disagreement always lowers confidence and nothing raises it above the
// primary's own claim.
func Decide(primaryConfidence float64, v Verdict) (consensus bool, final float64) {
	primary := agentqa.Clamp(primaryConfidence)
	verifier := agentqa.Clamp(v.Confidence)
	lower := math.Min(primary, verifier)

	consensus = v.Agrees && math.Abs(verifier-primary) < ConsensusDelta
	if consensus {
		return true, lower
	}
	return false, math.Max(0, lower-DisagreementPenalty)
}

// Config configures a Verifier.
type Config struct {
	// Timeout bounds the verification call (default: 60s).
	Timeout time.Duration
	// Model overrides the verifying agent's prompt-mode model.
	Model string
}

// Verifier runs the cross-agent verification protocol.
//
// Example:
//
//	verifier := verification.New(registry, verification.Config{})
//	result, err := verifier.Verify(ctx, primary, "science", "Is CBN psychoactive?")
//	if result.RequiresHumanReview() { ... }
type Verifier struct {
	agents *agent.Registry
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// New creates a verifier over the agents in registry.
func New(agents *agent.Registry, config Config, opts ...Option) *Verifier {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	v := &Verifier{
		agents: agents,
		config: config,
		logger: slog.Default().With("component", "verification"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify asks verifyingAgentType to assess primary's answer to query.
//
// An error is returned only when the verifying agent does not exist. Every
// other failure (backend error, timeout, unreadable verdict, missing prompt
// mode) yields a result that requires human review with the primary
// confidence lowered by 30.
func (v *Verifier) Verify(ctx context.Context, primary *agentqa.AgentResponse, verifyingAgentType, query string) (*agentqa.VerificationResult, error) {
	if primary == nil {
		return nil, errors.New("no primary response to verify")
	}
	verifier, err := v.agents.Get(verifyingAgentType)
	if err != nil {
		return nil, err
	}

	result := &agentqa.VerificationResult{
		PrimaryAgent:   primary.AgentType,
		VerifyingAgent: verifyingAgentType,
		Timestamp:      v.now().UTC(),
	}
	logger := v.logger.With("primary_agent", primary.AgentType, "verifying_agent", verifyingAgentType)

	verdict, err := v.ask(ctx, verifier, primary, query)
	if err != nil {
		logger.Warn("verification failed, escalating", "error", err)
		result.ConsensusReached = false
		result.FinalConfidence = math.Max(0, agentqa.Clamp(primary.Confidence)-FailurePenalty)
		result.Discrepancies = []string{FailureDiscrepancy}
		result.Recommendation = RecommendationEscalate
		return result, nil
	}

	result.VerifierAgrees = verdict.Agrees
	result.VerifierConfidence = agentqa.Clamp(verdict.Confidence)
	result.ConsensusReached, result.FinalConfidence = Decide(primary.Confidence, verdict)
	result.Discrepancies = verdict.Discrepancies
	if result.Discrepancies == nil {
		result.Discrepancies = []string{}
	}
	result.Recommendation = RecommendationEscalate
	if result.ConsensusReached {
		result.Recommendation = RecommendationVerified
	}

	logger.Info("verification complete",
		"consensus", result.ConsensusReached,
		"primary_confidence", primary.Confidence,
		"verifier_confidence", result.VerifierConfidence,
		"final_confidence", result.FinalConfidence)
	return result, nil
}

func (v *Verifier) ask(ctx context.Context, verifier *agent.Agent, primary *agentqa.AgentResponse, query string) (Verdict, error) {
	var opts []agent.DispatchOption
	if v.config.Model != "" {
		opts = append(opts, agent.WithModel(v.config.Model))
	}

	response, err := middleware.WithTimeout(ctx, v.config.Timeout, func(ctx context.Context) (*agentqa.AgentResponse, error) {
		return verifier.Dispatch(ctx, agentqa.ModePrompt, BuildPrompt(primary, query), opts...)
	})
	if err != nil {
		return Verdict{}, err
	}

	var verdict Verdict
	if err := verdictParser.Parse(response.ResponseText, &verdict); err != nil {
		return Verdict{}, err
	}
	return verdict, nil
}

// BuildPrompt embeds the original query, the primary answer and its claimed
// confidence.
func BuildPrompt(primary *agentqa.AgentResponse, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another expert agent (%s) answered a question. Review the answer independently.\n\n", primary.AgentType)
	fmt.Fprintf(&b, "Original question:\n%s\n\n", query)
	fmt.Fprintf(&b, "Answer under review:\n%s\n\n", primary.ResponseText)
	fmt.Fprintf(&b, "The answering agent's confidence: %.0f/100\n\n", primary.Confidence)
	b.WriteString("Do you agree with the answer? Give your own confidence in it from 0 to 100 and list any " +
		"factual, regulatory or safety discrepancies.\n")
	b.WriteString(`Respond with JSON only: {"agrees": true|false, "confidence": <0-100>, "discrepancies": ["..."]}`)
	return b.String()
}
