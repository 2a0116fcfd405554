// Package agent implements domain agents: a persona with a system prompt, a
// fixed table of execution modes, and the dispatch step that turns one
// (mode, prompt) pair into exactly one backend call.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/retrieval"
)

// DefaultHumanReviewThreshold is the confidence below which answers are
// flagged for human verification.
const DefaultHumanReviewThreshold = 60.0

// Retriever returns passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Passage, error)
}

// Config describes one agent.
type Config struct {
	AgentType    string
	SystemPrompt string
	// HumanReviewThreshold defaults to DefaultHumanReviewThreshold.
	HumanReviewThreshold float64
	// TopK is the number of passages fetched per source (default 3).
	TopK int
}

// Agent is a domain persona with per-mode call configuration.
//
// Example:
//
//	a := agent.New(agent.Config{AgentType: "compliance", SystemPrompt: "..."}, backend)
//	_ = a.SetModeConfig(agentqa.ModeConfig{Mode: agentqa.ModePrompt, ModelID: "gpt-4o", Temperature: 0.2, MaxTokens: 800, Active: true})
//	resp, err := a.Dispatch(ctx, agentqa.ModePrompt, "What licenses does a distributor need?")
type Agent struct {
	agentType    string
	systemPrompt string
	threshold    float64
	topK         int

	modes     *agentqa.ModeTable
	backend   llm.LLM
	rules     []ConfidenceRule
	retriever Retriever
	kb        Retriever
	flow      ExternalFlow
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithRules sets the agent's confidence adjustment rules.
func WithRules(rules ...ConfidenceRule) Option {
	return func(a *Agent) { a.rules = append(a.rules, rules...) }
}

// WithRetriever sets the passage source for retrieval-enabled modes.
func WithRetriever(r Retriever) Option {
	return func(a *Agent) { a.retriever = r }
}

// WithKnowledgeBase sets the passage source for knowledge-base-enabled modes.
func WithKnowledgeBase(r Retriever) Option {
	return func(a *Agent) { a.kb = r }
}

// WithExternalFlow routes the external mode to flow instead of the backend.
func WithExternalFlow(flow ExternalFlow) Option {
	return func(a *Agent) { a.flow = flow }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// New creates an agent with an empty mode table.
func New(cfg Config, backend llm.LLM, opts ...Option) *Agent {
	if cfg.HumanReviewThreshold <= 0 {
		cfg.HumanReviewThreshold = DefaultHumanReviewThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}

	a := &Agent{
		agentType:    cfg.AgentType,
		systemPrompt: cfg.SystemPrompt,
		threshold:    cfg.HumanReviewThreshold,
		topK:         cfg.TopK,
		modes:        agentqa.NewModeTable(cfg.AgentType),
		backend:      backend,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default().With("component", "agent", "agent_type", cfg.AgentType)
	}
	return a
}

// Type returns the agent type.
func (a *Agent) Type() string {
	return a.agentType
}

// SystemPrompt returns the agent's system prompt.
func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// GetModeConfig returns a copy of the mode's config, or nil if unconfigured.
func (a *Agent) GetModeConfig(mode agentqa.Mode) *agentqa.ModeConfig {
	return a.modes.Get(mode)
}

// SetModeConfig installs a complete config for a mode.
func (a *Agent) SetModeConfig(cfg agentqa.ModeConfig) error {
	return a.modes.Set(cfg)
}

// UpdateModeConfig merges patch into the mode's existing config. It fails
// with a ConfigError if the mode has no base config.
func (a *Agent) UpdateModeConfig(mode agentqa.Mode, patch agentqa.ModeConfigPatch) (agentqa.ModeConfig, error) {
	return a.modes.Update(mode, patch)
}

// Modes returns every configured mode.
func (a *Agent) Modes() []agentqa.ModeConfig {
	return a.modes.Configured()
}

// DispatchOptions holds per-dispatch overrides.
type DispatchOptions struct {
	// Model replaces the mode's model for this call.
	Model string
	// QueryContext is caller-supplied context. It is appended to the
	// prompt and visible to confidence rules.
	QueryContext map[string]interface{}
}

// DispatchOption configures a single dispatch.
type DispatchOption func(*DispatchOptions)

// WithModel overrides the mode's model for one call.
func WithModel(model string) DispatchOption {
	return func(o *DispatchOptions) { o.Model = model }
}

// WithQueryContext attaches caller context to one call.
func WithQueryContext(queryContext map[string]interface{}) DispatchOption {
	return func(o *DispatchOptions) { o.QueryContext = queryContext }
}

// RunQuery answers a question in the given mode with optional context.
func (a *Agent) RunQuery(ctx context.Context, mode agentqa.Mode, question string, queryContext map[string]interface{}) (*agentqa.AgentResponse, error) {
	return a.Dispatch(ctx, mode, question, WithQueryContext(queryContext))
}

// Dispatch performs exactly one backend call for prompt in mode.
//
// The system prompt is sent for every mode except raw. Retrieval and
// knowledge-base passages are prepended when the mode enables them and the
// agent has a source for them. Usage reported by the backend is attached;
// otherwise it is estimated at ceil(chars/4) and marked as estimated.
//
// Dispatch does not retry. Backend failures are returned as
// *agentqa.BackendError and unconfigured or inactive modes as
// *agentqa.ConfigError.
func (a *Agent) Dispatch(ctx context.Context, mode agentqa.Mode, prompt string, opts ...DispatchOption) (*agentqa.AgentResponse, error) {
	options := &DispatchOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if !mode.Valid() {
		return nil, agentqa.NewConfigError(a.agentType, mode.String(), "unknown mode")
	}
	cfg := a.modes.Get(mode)
	if cfg == nil {
		return nil, agentqa.NewConfigError(a.agentType, mode.String(), "mode not configured")
	}
	if !cfg.Active {
		return nil, agentqa.NewConfigError(a.agentType, mode.String(), "mode is inactive")
	}

	model := cfg.ModelID
	if options.Model != "" {
		model = options.Model
	}

	start := a.now()

	var ragPassages, kbPassages []retrieval.Passage
	if cfg.RetrievalEnabled && a.retriever != nil {
		ragPassages = a.fetch(ctx, a.retriever, "retrieval", prompt)
	}
	if cfg.KnowledgeBaseEnabled && a.kb != nil {
		kbPassages = a.fetch(ctx, a.kb, "knowledge_base", prompt)
	}

	req := llm.Request{
		UserPrompt:  buildUserPrompt(prompt, ragPassages, kbPassages, options.QueryContext),
		Model:       model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if mode != agentqa.ModeRaw {
		req.SystemPrompt = a.systemPrompt
	}

	var completion *llm.Completion
	var err error
	if mode == agentqa.ModeExternalFlow && a.flow != nil {
		completion, err = a.flow.Run(ctx, FlowRequest{
			AgentType:    a.agentType,
			Prompt:       req.UserPrompt,
			SystemPrompt: req.SystemPrompt,
			Model:        model,
		})
	} else {
		completion, err = llm.Complete(ctx, a.backend, req)
	}
	elapsed := a.now().Sub(start)
	if err != nil {
		return nil, agentqa.NewBackendError(a.agentType, mode, model, err)
	}

	usage := agentqa.TokenUsage{}
	if completion.Usage != nil {
		usage.InputTokens = completion.Usage.InputTokens
		usage.OutputTokens = completion.Usage.OutputTokens
	} else {
		usage.InputTokens = llm.EstimateTokens(req.SystemPrompt + req.UserPrompt)
		usage.OutputTokens = llm.EstimateTokens(completion.Text)
		usage.Estimated = true
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	sources := mergeSources(ragPassages, kbPassages, completion.Sources)

	metadata := make(map[string]interface{}, len(completion.Metadata)+len(options.QueryContext))
	for k, v := range options.QueryContext {
		metadata[k] = v
	}
	for k, v := range completion.Metadata {
		if k == "usage" || k == "sources" {
			continue
		}
		metadata[k] = v
	}

	confidence := ScoreConfidence(ConfidenceInput{
		AgentType: a.agentType,
		Mode:      mode,
		Query:     prompt,
		Text:      completion.Text,
		Sources:   sources,
		Reported:  completion.Confidence,
		Metadata:  metadata,
	}, a.rules)

	return &agentqa.AgentResponse{
		AgentType:                 a.agentType,
		Query:                     prompt,
		ResponseText:              completion.Text,
		Confidence:                confidence,
		Sources:                   sources,
		Metadata:                  metadata,
		RequiresHumanVerification: confidence < a.threshold,
		Mode:                      mode,
		Model:                     model,
		PerformanceMetrics: agentqa.PerformanceMetrics{
			ResponseTimeMs:    elapsed.Milliseconds(),
			TokenUsage:        usage,
			RetrievalHits:     len(ragPassages),
			KnowledgeBaseHits: len(kbPassages),
		},
		Timestamp: a.now().UTC(),
	}, nil
}

// fetch never fails the dispatch: a broken passage source degrades to a
// call without context.
func (a *Agent) fetch(ctx context.Context, r Retriever, kind, query string) []retrieval.Passage {
	passages, err := r.Retrieve(ctx, query, a.topK)
	if err != nil {
		a.logger.Warn("Passage lookup failed, continuing without context", "source", kind, "error", err)
		return nil
	}
	return passages
}

func buildUserPrompt(prompt string, rag, kb []retrieval.Passage, queryContext map[string]interface{}) string {
	if len(rag) == 0 && len(kb) == 0 && len(queryContext) == 0 {
		return prompt
	}

	var b strings.Builder
	writePassages := func(title string, passages []retrieval.Passage) {
		if len(passages) == 0 {
			return
		}
		b.WriteString(title)
		b.WriteString(":\n")
		for i, p := range passages {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, p.Source, strings.TrimSpace(p.Content))
		}
		b.WriteString("\n")
	}
	writePassages("Reference material", rag)
	writePassages("Knowledge base", kb)

	if len(queryContext) > 0 {
		keys := make([]string, 0, len(queryContext))
		for k := range queryContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, queryContext[k])
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(prompt)
	return b.String()
}

func mergeSources(rag, kb []retrieval.Passage, reported []string) []string {
	seen := make(map[string]bool)
	sources := make([]string, 0, len(rag)+len(kb)+len(reported))
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		sources = append(sources, s)
	}
	for _, p := range rag {
		add(p.Source)
	}
	for _, p := range kb {
		add(p.Source)
	}
	for _, s := range reported {
		add(s)
	}
	return sources
}
