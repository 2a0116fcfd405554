// Package engine assembles the agent quality-assurance engine from
// configuration and exposes its inbound operations: querying an agent,
// running and tracking benchmarks, cross-agent verification and coverage
// analysis. The HTTP server and the CLI are thin layers over Engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/benchmark"
	"github.com/F8ai/formul8-platform-sub006/budget"
	"github.com/F8ai/formul8-platform-sub006/config"
	"github.com/F8ai/formul8-platform-sub006/evaluation"
	"github.com/F8ai/formul8-platform-sub006/middleware"
	"github.com/F8ai/formul8-platform-sub006/observability"
	"github.com/F8ai/formul8-platform-sub006/retrieval"
	"github.com/F8ai/formul8-platform-sub006/safety"
	"github.com/F8ai/formul8-platform-sub006/storage"
	"github.com/F8ai/formul8-platform-sub006/verification"
)

// Engine is the assembled engine.
//
// Example:
//
//	cfg, _ := config.Load("agentqa.yaml")
//	eng, err := engine.New(ctx, cfg)
//	if err != nil { ... }
//	defer eng.Close(ctx)
//	resp, err := eng.RunQuery(ctx, "compliance", "prompt", "What licenses does a distributor need?", nil)
type Engine struct {
	cfg *config.Config

	agents    *agent.Registry
	questions storage.QuestionBank
	results   storage.ResultStore
	costs     *budget.CostTracker
	stats     *middleware.StatsLLM
	runner    *benchmark.Runner
	verifier  *verification.Verifier
	coverage  *evaluation.CoverageAnalyzer
	guard     *safety.Guard

	metrics *observability.EngineMetrics
	audit   *observability.AuditLogger
	logger  *slog.Logger
	tracer  trace.Tracer

	closers []io.Closer
}

// Option customizes New.
type Option func(*options)

type options struct {
	backend   llm.LLM
	questions storage.QuestionBank
	results   storage.ResultStore
	metrics   *observability.EngineMetrics
	audit     *observability.AuditLogger
	logger    *slog.Logger
}

// WithBackend replaces the configured providers with backend.
func WithBackend(backend llm.LLM) Option {
	return func(o *options) { o.backend = backend }
}

// WithQuestionBank replaces the configured question bank.
func WithQuestionBank(bank storage.QuestionBank) Option {
	return func(o *options) { o.questions = bank }
}

// WithResultStore replaces the configured result store.
func WithResultStore(store storage.ResultStore) Option {
	return func(o *options) { o.results = store }
}

// WithMetrics records benchmark and verification metrics.
func WithMetrics(metrics *observability.EngineMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithAudit records configuration changes and escalations.
func WithAudit(audit *observability.AuditLogger) Option {
	return func(o *options) { o.audit = audit }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds an engine from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		agents:  agent.NewRegistry(),
		metrics: o.metrics,
		audit:   o.audit,
		logger:  o.logger.With("component", "engine"),
		tracer:  observability.Tracer(),
	}

	backend := o.backend
	if backend == nil {
		router, err := buildBackend(ctx, cfg, o.metrics != nil)
		if err != nil {
			return nil, err
		}
		backend = router
	}
	e.stats = middleware.NewStatsLLM(backend)

	if o.questions == nil || o.results == nil {
		built, err := buildStores(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if built.closer != nil {
			e.closers = append(e.closers, built.closer)
		}
		if o.questions == nil {
			o.questions = built.questions
		}
		if o.results == nil {
			o.results = built.results
		}
	}
	e.questions, e.results = o.questions, o.results

	var vectors *retrieval.Store
	if cfg.Retrieval.Enabled {
		embed, err := retrieval.NewEmbeddingFunc(cfg.Retrieval.Embedding)
		if err != nil {
			return nil, fmt.Errorf("retrieval: %w", err)
		}
		if vectors, err = retrieval.NewStore(cfg.Retrieval.PersistDir, embed); err != nil {
			return nil, fmt.Errorf("retrieval: %w", err)
		}
	}

	for _, ac := range cfg.Agents {
		a, err := buildAgent(ctx, ac, e.stats, vectors, o.logger)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Type, err)
		}
		e.agents.Register(a)
	}

	e.costs = budget.NewCostTracker(nil, buildPricing(cfg.Pricing))

	grader := evaluation.NewGrader(e.stats, evaluation.GraderConfig{
		JudgeModel:  cfg.Grading.JudgeModel,
		Temperature: cfg.Grading.Temperature,
		MaxTokens:   cfg.Grading.MaxTokens,
		CacheSize:   cfg.Grading.CacheSize,
	}, evaluation.WithGraderLogger(o.logger.With("component", "grader")))

	runnerOpts := []benchmark.RunnerOption{benchmark.WithRunnerLogger(o.logger.With("component", "benchmark"))}
	if o.metrics != nil {
		runnerOpts = append(runnerOpts, benchmark.WithObserver(o.metrics))
	}
	if cfg.Budget.PerRun > 0 {
		runnerOpts = append(runnerOpts, benchmark.WithBudgetWatch(budget.NewWatch(e.costs, cfg.Budget.PerRun, cfg.Budget.Thresholds)))
	}
	e.runner = benchmark.NewRunner(e.agents, e.questions, e.results, grader, e.costs, runnerConfig(cfg.Benchmark), runnerOpts...)

	e.verifier = verification.New(e.agents, verification.Config{
		Timeout: cfg.Verification.Timeout,
		Model:   cfg.Verification.Model,
	}, verification.WithLogger(o.logger.With("component", "verification")))

	e.coverage = evaluation.NewCoverageAnalyzer(e.stats, evaluation.CoverageConfig{
		JudgeModel:  cfg.Coverage.JudgeModel,
		Temperature: cfg.Coverage.Temperature,
		MaxTokens:   cfg.Coverage.MaxTokens,
	}, o.logger.With("component", "coverage"))

	if cfg.Safety.Enabled {
		e.guard = safety.NewGuard(safety.Config{
			MaxLength:          cfg.Safety.MaxQueryLength,
			InjectionThreshold: cfg.Safety.InjectionThreshold,
			BannedPhrases:      cfg.Safety.BannedPhrases,
			BlockPII:           cfg.Safety.BlockPII,
		})
	}

	e.logger.Info("engine ready", "agents", e.agents.Types(), "providers", len(cfg.Providers), "storage", cfg.Storage.Kind)
	return e, nil
}

func runnerConfig(b config.BenchmarkConfig) benchmark.RunnerConfig {
	rc := benchmark.DefaultRunnerConfig()
	if b.MaxConcurrentModels > 0 {
		rc.MaxConcurrentModels = b.MaxConcurrentModels
	}
	rc.CallDelay = b.CallDelay
	if b.CallTimeout > 0 {
		rc.CallTimeout = b.CallTimeout
	}
	if b.GradeTimeout > 0 {
		rc.GradeTimeout = b.GradeTimeout
	}
	if b.MaxAttempts > 0 {
		rc.Retry.MaxAttempts = b.MaxAttempts
	}
	if b.RetryBackoff > 0 {
		rc.Retry.InitialBackoff = b.RetryBackoff
	}
	if b.MaxJobs > 0 {
		rc.MaxJobs = b.MaxJobs
	}
	return rc
}

// Agents returns the registered agent types, sorted.
func (e *Engine) Agents() []string {
	return e.agents.Types()
}

// Modes returns an agent's configured modes.
func (e *Engine) Modes(agentType string) ([]agentqa.ModeConfig, error) {
	a, err := e.agents.Get(agentType)
	if err != nil {
		return nil, err
	}
	return a.Modes(), nil
}

// GetModeConfig returns the config of one mode, or nil when unconfigured.
func (e *Engine) GetModeConfig(agentType, mode string) (*agentqa.ModeConfig, error) {
	a, m, err := e.resolve(agentType, mode)
	if err != nil {
		return nil, err
	}
	return a.GetModeConfig(m), nil
}

// UpdateModeConfig merges patch into an existing mode config.
func (e *Engine) UpdateModeConfig(ctx context.Context, agentType, mode string, patch agentqa.ModeConfigPatch) (agentqa.ModeConfig, error) {
	a, m, err := e.resolve(agentType, mode)
	if err != nil {
		return agentqa.ModeConfig{}, err
	}
	before := a.GetModeConfig(m)
	updated, err := a.UpdateModeConfig(m, patch)
	if err != nil {
		return agentqa.ModeConfig{}, err
	}
	e.audit.ModeConfigChange(ctx, agentType, before, updated)
	return updated, nil
}

func (e *Engine) resolve(agentType, mode string) (*agent.Agent, agentqa.Mode, error) {
	a, err := e.agents.Get(agentType)
	if err != nil {
		return nil, 0, err
	}
	m, err := agentqa.ParseMode(mode)
	if err != nil {
		return nil, 0, agentqa.NewConfigError(agentType, mode, "unknown mode")
	}
	return a, m, nil
}

// RunQuery answers one question with an agent in the given mode. The call
// is bounded by the benchmark call timeout. Questions failing the safety
// screen are rejected with a *safety.ValidationError.
func (e *Engine) RunQuery(ctx context.Context, agentType, mode, question string, queryContext map[string]interface{}) (*agentqa.AgentResponse, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run_query", trace.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("mode", mode),
	))
	defer span.End()

	a, m, err := e.resolve(agentType, mode)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := e.guard.Check(question); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("question rejected", "agent_type", agentType, "error", err)
		e.audit.QueryRejected(ctx, agentType, err)
		return nil, err
	}

	timeout := runnerConfig(e.cfg.Benchmark).CallTimeout
	resp, err := middleware.WithTimeout(ctx, timeout, func(ctx context.Context) (*agentqa.AgentResponse, error) {
		return a.RunQuery(ctx, m, question, queryContext)
	})
	if err != nil {
		var timeoutErr *middleware.TimeoutError
		if errors.As(err, &timeoutErr) {
			cfg := a.GetModeConfig(m)
			model := ""
			if cfg != nil {
				model = cfg.ModelID
			}
			err = agentqa.NewBackendError(agentType, m, model, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("confidence", resp.Confidence),
		attribute.Bool("requires_human_verification", resp.RequiresHumanVerification),
	)
	return resp, nil
}

// RunBenchmark starts a benchmark run in the background and returns its ID.
// Setup problems such as a missing question bank surface as a failed run.
func (e *Engine) RunBenchmark(ctx context.Context, req benchmark.Request) string {
	job := e.runner.Start(req)
	e.audit.BenchmarkStart(ctx, job.ID, req.AgentType, job.Progress().Mode, req.Models)
	return job.ID
}

// RunBenchmarkSync runs a benchmark in the calling goroutine and returns
// its final progress. Cancelling ctx cancels the run.
func (e *Engine) RunBenchmarkSync(ctx context.Context, req benchmark.Request) benchmark.Progress {
	return e.runner.Run(ctx, req).Progress()
}

// GetProgress returns a snapshot of a run.
func (e *Engine) GetProgress(runID string) (benchmark.Progress, error) {
	return e.runner.Progress(runID)
}

// ListBenchmarks returns snapshots of the retained runs.
func (e *Engine) ListBenchmarks() []benchmark.Progress {
	return e.runner.List()
}

// CancelBenchmark asks a run to stop before its next item.
func (e *Engine) CancelBenchmark(ctx context.Context, runID string) error {
	if err := e.runner.Cancel(runID); err != nil {
		return err
	}
	e.audit.BenchmarkCancel(ctx, runID)
	return nil
}

// Results returns the stored results of one run for one model.
func (e *Engine) Results(ctx context.Context, agentType, model, runID string) ([]agentqa.ModelResult, error) {
	return e.results.LoadModelResults(ctx, agentType, model, runID)
}

// Baseline returns the rolling performance record of (agentType, mode).
func (e *Engine) Baseline(ctx context.Context, agentType, mode string) (*agentqa.BaselinePerformance, error) {
	_, m, err := e.resolve(agentType, mode)
	if err != nil {
		return nil, err
	}
	return e.results.GetBaselinePerformance(ctx, agentType, m)
}

// Verify cross-checks primary with a second agent.
func (e *Engine) Verify(ctx context.Context, primary *agentqa.AgentResponse, verifyingAgentType, query string) (*agentqa.VerificationResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.verify", trace.WithAttributes(
		attribute.String("verifying_agent", verifyingAgentType),
	))
	defer span.End()

	result, err := e.verifier.Verify(ctx, primary, verifyingAgentType, query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("consensus", result.ConsensusReached),
		attribute.Float64("final_confidence", result.FinalConfidence),
	)
	if e.metrics != nil {
		e.metrics.VerificationCompleted(ctx, result)
	}
	e.audit.Escalation(ctx, result)
	return result, nil
}

// AnalyzeCoverage reports how well the agent's question bank covers
// capabilities. With no capabilities given, the agent's configured list is
// used. A missing question bank is analyzed as an empty one.
func (e *Engine) AnalyzeCoverage(ctx context.Context, agentType string, capabilities []string) (*agentqa.CoverageAnalysis, error) {
	if _, err := e.agents.Get(agentType); err != nil {
		return nil, err
	}
	if len(capabilities) == 0 {
		if ac, ok := e.cfg.Agent(agentType); ok {
			capabilities = ac.Capabilities
		}
	}

	questions, err := e.questions.LoadQuestions(ctx, agentType)
	if err != nil && !errors.Is(err, storage.ErrNoQuestionBank) {
		return nil, err
	}

	timeout := e.cfg.Coverage.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.coverage.Analyze(ctx, agentType, capabilities, questions), nil
}

// Stats returns per-model call statistics since start.
func (e *Engine) Stats() []middleware.Metrics {
	return e.stats.Snapshot()
}

// Close stops background runs and releases storage connections.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runner.Shutdown(ctx)
	for _, c := range e.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
