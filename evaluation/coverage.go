package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

const (
	CoverageSourceJudge    = "judge"
	CoverageSourceFallback = "fallback"

	// questionsPerCapability is the bank size per capability area that
	// counts as full coverage.
	questionsPerCapability = 1.5
)

const coverageSchema = `{
	"type": "object",
	"required": ["confidence", "coverage", "gaps", "strengths", "recommendations", "functionalityMap"],
	"properties": {
		"confidence": {"type": "number"},
		"coverage": {"type": "number"},
		"gaps": {"type": "array", "items": {"type": "string"}},
		"strengths": {"type": "array", "items": {"type": "string"}},
		"recommendations": {"type": "array", "items": {"type": "string"}},
		"functionalityMap": {"type": "object", "additionalProperties": {"type": "number"}}
	}
}`

var coverageParser = MustStructuredParser("coverage", coverageSchema)

// CoverageConfig configures the coverage analyzer's judge call.
type CoverageConfig struct {
	JudgeModel  string
	Temperature float64
	MaxTokens   int
}

// DefaultCoverageConfig returns the default coverage configuration.
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{Temperature: 0.2, MaxTokens: 1500}
}

// CoverageAnalyzer estimates how well a question bank exercises a list of
// capability areas. The judge path asks an LLM for a structured report; when
// there is no judge, or it fails, or its output does not validate, the
// deterministic fallback is used. Analyze never fails.
type CoverageAnalyzer struct {
	judge  llm.LLM
	config CoverageConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCoverageAnalyzer creates an analyzer. judge may be nil.
func NewCoverageAnalyzer(judge llm.LLM, config CoverageConfig, logger *slog.Logger) *CoverageAnalyzer {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultCoverageConfig().MaxTokens
	}
	if logger == nil {
		logger = slog.Default().With("component", "coverage")
	}
	return &CoverageAnalyzer{judge: judge, config: config, logger: logger, now: time.Now}
}

// Analyze returns a coverage report for agentType.
func (a *CoverageAnalyzer) Analyze(ctx context.Context, agentType string, capabilities []string, questions []agentqa.BaselineQuestion) *agentqa.CoverageAnalysis {
	analysis, err := a.judgeCoverage(ctx, capabilities, questions)
	if err != nil {
		a.logger.Warn("coverage judge unavailable, using fallback",
			"agent_type", agentType,
			"capabilities", len(capabilities),
			"questions", len(questions),
			"error", err)
		analysis = FallbackCoverage(capabilities, questions)
	}
	analysis.AgentType = agentType
	analysis.Timestamp = a.now().UTC()
	return analysis
}

type judgeCoverage struct {
	Confidence       float64            `json:"confidence"`
	Coverage         float64            `json:"coverage"`
	Gaps             []string           `json:"gaps"`
	Strengths        []string           `json:"strengths"`
	Recommendations  []string           `json:"recommendations"`
	FunctionalityMap map[string]float64 `json:"functionalityMap"`
}

func (a *CoverageAnalyzer) judgeCoverage(ctx context.Context, capabilities []string, questions []agentqa.BaselineQuestion) (*agentqa.CoverageAnalysis, error) {
	if a.judge == nil {
		return nil, errors.New("no judge configured")
	}

	completion, err := llm.Complete(ctx, a.judge, llm.Request{
		SystemPrompt: "You audit test coverage of question banks for domain expert agents. Respond with JSON only.",
		UserPrompt:   buildCoveragePrompt(capabilities, questions),
		Model:        a.config.JudgeModel,
		Temperature:  a.config.Temperature,
		MaxTokens:    a.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	var parsed judgeCoverage
	if err := coverageParser.Parse(completion.Text, &parsed); err != nil {
		return nil, err
	}

	functionality := make(map[string]float64, len(parsed.FunctionalityMap))
	for name, v := range parsed.FunctionalityMap {
		functionality[name] = agentqa.Clamp(v)
	}
	return &agentqa.CoverageAnalysis{
		Confidence:       agentqa.Clamp(parsed.Confidence),
		Coverage:         agentqa.Clamp(parsed.Coverage),
		Gaps:             nonNil(parsed.Gaps),
		Strengths:        nonNil(parsed.Strengths),
		Recommendations:  nonNil(parsed.Recommendations),
		FunctionalityMap: functionality,
		Source:           CoverageSourceJudge,
	}, nil
}

func buildCoveragePrompt(capabilities []string, questions []agentqa.BaselineQuestion) string {
	var b strings.Builder
	b.WriteString("Capability areas the agent must handle:\n")
	for _, c := range capabilities {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	fmt.Fprintf(&b, "\nExisting baseline questions (%d):\n", len(questions))
	for _, q := range questions {
		fmt.Fprintf(&b, "- [%s/%s] %s\n", q.Category, q.Difficulty, q.QuestionText)
	}
	b.WriteString("\nEstimate how well the questions exercise the capability areas. Respond with " +
		`{"confidence": <0-100>, "coverage": <0-100>, "gaps": [..], "strengths": [..], ` +
		`"recommendations": [..], "functionalityMap": {"<capability>": <0-100>}}.`)
	return b.String()
}

// FallbackCoverage computes the deterministic report:
//
//	coverage   = min(100, round(questions / (capabilities * 1.5) * 100))
//	confidence = max(20, coverage - 15)
//
// No capabilities means zero coverage. Per-capability figures come from
// keyword overlap between each capability and the questions.
func FallbackCoverage(capabilities []string, questions []agentqa.BaselineQuestion) *agentqa.CoverageAnalysis {
	coverage := 0.0
	if len(capabilities) > 0 {
		coverage = math.Min(100, math.Round(float64(len(questions))/(float64(len(capabilities))*questionsPerCapability)*100))
	}

	analysis := &agentqa.CoverageAnalysis{
		Confidence:       math.Max(20, coverage-15),
		Coverage:         coverage,
		Gaps:             []string{},
		Strengths:        []string{},
		Recommendations:  []string{},
		FunctionalityMap: make(map[string]float64, len(capabilities)),
		Source:           CoverageSourceFallback,
	}

	for _, capability := range capabilities {
		matched := matchingQuestions(capability, questions)
		pct := math.Min(100, math.Round(float64(matched)/questionsPerCapability*100))
		analysis.FunctionalityMap[capability] = pct

		switch {
		case matched == 0:
			analysis.Gaps = append(analysis.Gaps, fmt.Sprintf("No baseline questions exercise %q", capability))
			analysis.Recommendations = append(analysis.Recommendations,
				fmt.Sprintf("Add at least 2 questions covering %q", capability))
		case pct < 100:
			analysis.Gaps = append(analysis.Gaps, fmt.Sprintf("Only %d baseline question(s) exercise %q", matched, capability))
		default:
			analysis.Strengths = append(analysis.Strengths, fmt.Sprintf("%q is exercised by %d questions", capability, matched))
		}
	}

	if len(capabilities) > 0 && coverage < 100 {
		needed := int(math.Ceil(float64(len(capabilities))*questionsPerCapability)) - len(questions)
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("Grow the question bank by %d questions to reach full coverage", needed))
	}
	if len(questions) > 0 {
		analysis.Strengths = append(analysis.Strengths,
			fmt.Sprintf("%d questions across %d categories", len(questions), len(distinct(questions, func(q agentqa.BaselineQuestion) string { return q.Category }))))
		if levels := distinct(questions, func(q agentqa.BaselineQuestion) string { return q.Difficulty }); len(levels) < 2 {
			analysis.Recommendations = append(analysis.Recommendations, "Mix difficulty levels in the question bank")
		}
	} else {
		analysis.Gaps = append(analysis.Gaps, "Question bank is empty")
	}
	return analysis
}

var stopWords = map[string]bool{
	"and": true, "for": true, "the": true, "with": true, "from": true, "into": true, "that": true, "this": true,
}

func keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var words []string
	for _, f := range fields {
		if len(f) >= 3 && !stopWords[f] {
			words = append(words, f)
		}
	}
	return words
}

func matchingQuestions(capability string, questions []agentqa.BaselineQuestion) int {
	terms := keywords(capability)
	if len(terms) == 0 {
		return 0
	}
	count := 0
	for _, q := range questions {
		text := strings.ToLower(q.QuestionText + " " + q.Category)
		for _, term := range terms {
			if strings.Contains(text, term) {
				count++
				break
			}
		}
	}
	return count
}

func distinct(questions []agentqa.BaselineQuestion, key func(agentqa.BaselineQuestion) string) []string {
	seen := make(map[string]bool)
	for _, q := range questions {
		if k := key(q); k != "" {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
