package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Rubric weights applied by the judge, in percent.
var RubricWeights = map[string]float64{
	"accuracy":     40,
	"completeness": 30,
	"relevance":    20,
	"clarity":      10,
}

const (
	// DefaultGrade is assigned when the judge fails or its output cannot be read.
	DefaultGrade = 50.0

	ConfidenceSourceJudge   = "judge"
	ConfidenceSourceStandIn = "stand-in"
)

const gradeSchema = `{
	"type": "object",
	"required": ["grade"],
	"properties": {
		"grade": {"type": "number", "minimum": 0, "maximum": 100},
		"confidence": {"type": "number", "minimum": 0, "maximum": 100},
		"accuracy": {"type": "number", "minimum": 0, "maximum": 100},
		"completeness": {"type": "number", "minimum": 0, "maximum": 100},
		"relevance": {"type": "number", "minimum": 0, "maximum": 100},
		"clarity": {"type": "number", "minimum": 0, "maximum": 100}
	}
}`

var gradeParser = MustStructuredParser("grader", gradeSchema)

const graderSystemPrompt = "You are a strict examiner for a cannabis industry advisory platform. " +
	"You compare an answer with the expected answer and score it. Respond with JSON only."

// GraderConfig configures the rubric grader.
type GraderConfig struct {
	// JudgeModel overrides the judge backend's default model.
	JudgeModel string

	// Temperature for the judge call (default: 0.1).
	Temperature float64

	// MaxTokens for the judge call (default: 150).
	MaxTokens int

	// CacheSize bounds the verdict cache (default: 1024, negative disables).
	CacheSize int
}

// DefaultGraderConfig returns the default grader configuration.
func DefaultGraderConfig() GraderConfig {
	return GraderConfig{
		Temperature: 0.1,
		MaxTokens:   150,
		CacheSize:   1024,
	}
}

// GradeRequest is one answer to grade.
type GradeRequest struct {
	QuestionID string
	Model      string
	Question   string
	Expected   string
	Answer     string
}

// Verdict is the grader's assessment of one answer.
//
// Grade measures answer quality against the expected answer. Confidence is
// the judge's own certainty when it reports one; otherwise it is the
// deterministic stand-in 50 + |grade-50|/2 and ConfidenceSource says so.
type Verdict struct {
	Grade            float64
	Confidence       float64
	ConfidenceSource string
	Rubric           map[string]float64
	// Err is set when the default grade was used. It never aborts a run.
	Err *agentqa.GradingError
}

// StandInConfidence derives a grading confidence from the grade alone.
// Extreme grades are treated as more certain than middling ones.
func StandInConfidence(grade float64) float64 {
	return 50 + math.Abs(grade-50)/2
}

// Grader scores answers with a separate judge call using a weighted rubric.
//
// Example:
//
//	grader := evaluation.NewGrader(judge, evaluation.DefaultGraderConfig())
//	verdict := grader.Grade(ctx, evaluation.GradeRequest{
//	    QuestionID: "q1",
//	    Question:   "What license does a distributor need?",
//	    Expected:   "A Type 11 distribution license.",
//	    Answer:     answer.ResponseText,
//	})
type Grader struct {
	judge  llm.LLM
	config GraderConfig
	cache  *lru.Cache[string, Verdict]
	logger *slog.Logger
}

// GraderOption configures a Grader.
type GraderOption func(*Grader)

// WithGraderLogger sets the logger.
func WithGraderLogger(logger *slog.Logger) GraderOption {
	return func(g *Grader) {
		g.logger = logger
	}
}

// NewGrader creates a grader backed by judge.
func NewGrader(judge llm.LLM, config GraderConfig, opts ...GraderOption) *Grader {
	defaults := DefaultGraderConfig()
	if config.Temperature <= 0 {
		config.Temperature = defaults.Temperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.CacheSize == 0 {
		config.CacheSize = defaults.CacheSize
	}

	g := &Grader{
		judge:  judge,
		config: config,
		logger: slog.Default().With("component", "grader"),
	}
	if config.CacheSize > 0 {
		g.cache, _ = lru.New[string, Verdict](config.CacheSize)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grade scores one answer. It always returns a usable verdict.
func (g *Grader) Grade(ctx context.Context, req GradeRequest) Verdict {
	key := g.cacheKey(req)
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			return v
		}
	}

	verdict, err := g.grade(ctx, req)
	if err != nil {
		g.logger.Warn("grading fell back to default",
			"question_id", req.QuestionID,
			"model", req.Model,
			"error", err)
		return Verdict{
			Grade:            DefaultGrade,
			Confidence:       StandInConfidence(DefaultGrade),
			ConfidenceSource: ConfidenceSourceStandIn,
			Err:              agentqa.NewGradingError(req.QuestionID, req.Model, err),
		}
	}

	if g.cache != nil {
		g.cache.Add(key, verdict)
	}
	return verdict
}

type judgeGrade struct {
	Grade        float64  `json:"grade"`
	Confidence   *float64 `json:"confidence"`
	Accuracy     *float64 `json:"accuracy"`
	Completeness *float64 `json:"completeness"`
	Relevance    *float64 `json:"relevance"`
	Clarity      *float64 `json:"clarity"`
}

func (g *Grader) grade(ctx context.Context, req GradeRequest) (Verdict, error) {
	if g.judge == nil {
		return Verdict{}, errors.New("no judge configured")
	}

	completion, err := llm.Complete(ctx, g.judge, llm.Request{
		SystemPrompt: graderSystemPrompt,
		UserPrompt:   buildGradePrompt(req),
		Model:        g.config.JudgeModel,
		Temperature:  g.config.Temperature,
		MaxTokens:    g.config.MaxTokens,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge call failed: %w", err)
	}

	var parsed judgeGrade
	if parseErr := gradeParser.Parse(completion.Text, &parsed); parseErr != nil {
		score, ok := ParseScore(completion.Text)
		if !ok {
			return Verdict{}, parseErr
		}
		score = math.Round(score)
		g.logger.Debug("judge returned a bare score", "question_id", req.QuestionID, "model", req.Model)
		return Verdict{
			Grade:            score,
			Confidence:       StandInConfidence(score),
			ConfidenceSource: ConfidenceSourceStandIn,
		}, nil
	}

	verdict := Verdict{
		Grade:            math.Round(parsed.Grade),
		Confidence:       StandInConfidence(math.Round(parsed.Grade)),
		ConfidenceSource: ConfidenceSourceStandIn,
	}
	if parsed.Confidence != nil {
		verdict.Confidence = agentqa.Clamp(*parsed.Confidence)
		verdict.ConfidenceSource = ConfidenceSourceJudge
	}
	rubric := map[string]*float64{
		"accuracy":     parsed.Accuracy,
		"completeness": parsed.Completeness,
		"relevance":    parsed.Relevance,
		"clarity":      parsed.Clarity,
	}
	for name, v := range rubric {
		if v == nil {
			continue
		}
		if verdict.Rubric == nil {
			verdict.Rubric = make(map[string]float64, len(rubric))
		}
		verdict.Rubric[name] = *v
	}
	return verdict, nil
}

func buildGradePrompt(req GradeRequest) string {
	var b strings.Builder
	b.WriteString("Grade the answer from 0 to 100 using this rubric:\n")
	fmt.Fprintf(&b, "- Accuracy (%.0f%%): facts and regulations are correct\n", RubricWeights["accuracy"])
	fmt.Fprintf(&b, "- Completeness (%.0f%%): every part of the question is answered\n", RubricWeights["completeness"])
	fmt.Fprintf(&b, "- Relevance (%.0f%%): the answer stays on the question\n", RubricWeights["relevance"])
	fmt.Fprintf(&b, "- Clarity (%.0f%%): the answer is clear and well organized\n\n", RubricWeights["clarity"])
	fmt.Fprintf(&b, "Question:\n%s\n\n", req.Question)
	fmt.Fprintf(&b, "Expected answer:\n%s\n\n", req.Expected)
	fmt.Fprintf(&b, "Answer to grade:\n%s\n\n", req.Answer)
	b.WriteString(`Respond with {"grade": <0-100>, "confidence": <0-100>, "accuracy": <0-100>, ` +
		`"completeness": <0-100>, "relevance": <0-100>, "clarity": <0-100>}.`)
	return b.String()
}

func (g *Grader) cacheKey(req GradeRequest) string {
	model := g.config.JudgeModel
	if model == "" && g.judge != nil {
		model = g.judge.Model()
	}
	h := sha256.New()
	for _, part := range []string{model, req.Question, req.Expected, req.Answer} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
