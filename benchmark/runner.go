// Package benchmark runs agents against their question banks across
// several models, grading and costing every answer.
//
// Work is parallel across models and sequential within a model. Each model
// gets its own pacing limiter so consecutive calls to one provider are spaced
// out, and every call runs under an explicit deadline. A failed item becomes
// an error result and the run moves on; only setup problems fail a run.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/budget"
	"github.com/F8ai/formul8-platform-sub006/evaluation"
	"github.com/F8ai/formul8-platform-sub006/middleware"
	"github.com/F8ai/formul8-platform-sub006/storage"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrRunNotFound is returned for unknown or evicted run IDs.
var ErrRunNotFound = errors.New("benchmark run not found")

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// MaxConcurrentModels bounds how many models run at once (default: 4).
	MaxConcurrentModels int

	// CallDelay is the minimum spacing between calls to one model
	// (default: 500ms).
	CallDelay time.Duration

	// CallTimeout bounds every agent call (default: 60s).
	CallTimeout time.Duration

	// GradeTimeout bounds every judge call (default: 30s).
	GradeTimeout time.Duration

	// Retry is the per-item retry policy. Timeouts and config errors are
	// never retried (default: 2 attempts).
	Retry middleware.RetryConfig

	// MaxJobs bounds the number of finished runs kept for progress
	// queries (default: 256). Runs that have not finished are always kept.
	MaxJobs int
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrentModels: 4,
		CallDelay:           500 * time.Millisecond,
		CallTimeout:         60 * time.Second,
		GradeTimeout:        30 * time.Second,
		Retry: middleware.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    time.Second,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2,
		},
		MaxJobs: 256,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.MaxConcurrentModels <= 0 {
		c.MaxConcurrentModels = d.MaxConcurrentModels
	}
	if c.CallDelay < 0 {
		c.CallDelay = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.GradeTimeout <= 0 {
		c.GradeTimeout = d.GradeTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = d.Retry
	}
	if c.Retry.ShouldRetry == nil {
		c.Retry.ShouldRetry = retryable
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = d.MaxJobs
	}
	return c
}

func retryable(err error) bool {
	var cfgErr *agentqa.ConfigError
	return middleware.NotTimeout(err) && !errors.As(err, &cfgErr)
}

// Observer receives per-item and per-run events.
type Observer interface {
	ItemCompleted(ctx context.Context, agentType, model string, result agentqa.ModelResult)
	RunFinished(ctx context.Context, agentType string, progress Progress)
}

// Runner executes benchmark runs and keeps them for progress queries.
//
// Example:
//
//	runner := benchmark.NewRunner(registry, bank, store, grader, tracker, benchmark.DefaultRunnerConfig())
//	job := runner.Start(benchmark.Request{AgentType: "compliance", Models: []string{"gpt-4o", "bedrock/anthropic.claude-3-5-haiku-20241022-v1:0"}})
//	progress := runner.Progress(job.ID)
type Runner struct {
	agents    *agent.Registry
	questions storage.QuestionBank
	results   storage.ResultStore
	grader    *evaluation.Grader
	costs     *budget.CostTracker
	config    RunnerConfig

	watch    *budget.Watch
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*Job
	jobs   *lru.Cache[string, *Job]
	wg     sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBudgetWatch warns when a run approaches its budget.
func WithBudgetWatch(watch *budget.Watch) RunnerOption {
	return func(r *Runner) {
		r.watch = watch
	}
}

// WithObserver reports item and run events, typically to metrics.
func WithObserver(observer Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = observer
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner. A nil cost tracker prices with the default
// rates.
func NewRunner(agents *agent.Registry, questions storage.QuestionBank, results storage.ResultStore, grader *evaluation.Grader, costs *budget.CostTracker, config RunnerConfig, opts ...RunnerOption) *Runner {
	config = config.withDefaults()
	if costs == nil {
		costs = budget.NewCostTracker(nil, nil)
	}
	jobs, _ := lru.New[string, *Job](config.MaxJobs)

	r := &Runner{
		agents:    agents,
		questions: questions,
		results:   results,
		grader:    grader,
		costs:     costs,
		config:    config,
		logger:    slog.Default().With("component", "benchmark"),
		now:       time.Now,
		active:    make(map[string]*Job),
		jobs:      jobs,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers a run and executes it in the background. The run is
// detached from any caller context; stop it with Cancel.
func (r *Runner) Start(req Request) *Job {
	job := r.register(req)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(context.Background(), job)
	}()
	return job
}

// Run registers a run and executes it in the calling goroutine. Cancelling
// ctx stops the run like Cancel does.
func (r *Runner) Run(ctx context.Context, req Request) *Job {
	job := r.register(req)
	r.execute(ctx, job)
	return job
}

func (r *Runner) register(req Request) *Job {
	job := newJob(uuid.NewString(), req, r.now().UTC())
	r.mu.Lock()
	r.active[job.ID] = job
	r.mu.Unlock()
	return job
}

// retire moves a finished run into the bounded history.
func (r *Runner) retire(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, job.ID)
	r.jobs.Add(job.ID, job)
}

// Get returns a run by ID.
func (r *Runner) Get(runID string) (*Job, error) {
	r.mu.Lock()
	job, ok := r.active[runID]
	r.mu.Unlock()
	if ok {
		return job, nil
	}
	if job, ok := r.jobs.Get(runID); ok {
		return job, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

func (r *Runner) activeJobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]*Job, 0, len(r.active))
	for _, job := range r.active {
		jobs = append(jobs, job)
	}
	return jobs
}

// Progress returns a snapshot of a run.
func (r *Runner) Progress(runID string) (Progress, error) {
	job, err := r.Get(runID)
	if err != nil {
		return Progress{}, err
	}
	return job.Progress(), nil
}

// Cancel requests that a run stop before its next item.
func (r *Runner) Cancel(runID string) error {
	job, err := r.Get(runID)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

// List returns snapshots of the retained runs, oldest first.
func (r *Runner) List() []Progress {
	keys := r.jobs.Keys()
	out := make([]Progress, 0, len(keys))
	for _, key := range keys {
		if job, ok := r.jobs.Peek(key); ok {
			out = append(out, job.Progress())
		}
	}
	for _, job := range r.activeJobs() {
		out = append(out, job.Progress())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown cancels background runs and waits for them to finish or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	for _, job := range r.activeJobs() {
		job.Cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// plan is the resolved setup of a run.
type plan struct {
	agent     *agent.Agent
	mode      agentqa.Mode
	models    []string
	questions []agentqa.BaselineQuestion
}

func (r *Runner) setup(ctx context.Context, req Request) (*plan, error) {
	ag, err := r.agents.Get(req.AgentType)
	if err != nil {
		return nil, err
	}

	modeName := req.Mode
	if modeName == "" {
		modeName = agentqa.ModePrompt.String()
	}
	mode, err := agentqa.ParseMode(modeName)
	if err != nil {
		return nil, err
	}
	cfg := ag.GetModeConfig(mode)
	if cfg == nil || !cfg.Active {
		return nil, agentqa.NewConfigError(req.AgentType, mode.String(), "mode is not configured or inactive")
	}

	models := dedupe(req.Models)
	if len(models) == 0 {
		models = []string{cfg.ModelID}
	}

	questions, err := r.questions.LoadQuestions(ctx, req.AgentType)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("agent '%s': question bank is empty: %w", req.AgentType, storage.ErrNoQuestionBank)
	}
	if req.QuestionLimit > 0 && req.QuestionLimit < len(questions) {
		questions = questions[:req.QuestionLimit]
	}

	return &plan{agent: ag, mode: mode, models: models, questions: questions}, nil
}

func (r *Runner) execute(ctx context.Context, job *Job) {
	defer r.retire(job)
	if !job.start(r.now().UTC()) {
		return
	}
	logger := r.logger.With("run_id", job.ID, "agent_type", job.Request.AgentType)
	// Bookkeeping after the item loop must survive a cancelled ctx.
	bg := context.WithoutCancel(ctx)

	p, err := r.setup(ctx, job.Request)
	if err != nil {
		logger.Error("benchmark setup failed", "error", err)
		job.fail(r.now().UTC(), err)
		r.notifyFinished(bg, job)
		return
	}
	job.plan(p.mode.String(), p.models, len(p.models)*len(p.questions))
	logger.Info("benchmark started",
		"mode", p.mode.String(),
		"models", len(p.models),
		"questions", len(p.questions))

	var (
		mu  sync.Mutex
		all []agentqa.ModelResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrentModels)
	for _, model := range p.models {
		model := model
		g.Go(func() error {
			results := r.runModel(gctx, job, p, model, logger.With("model", model))
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := evaluation.Summarize(all)
	if total, err := r.costs.RunCost(bg, job.ID); err == nil {
		summary.TotalCost = total
	}

	if job.Cancelled() || ctx.Err() != nil {
		job.Cancel()
		logger.Info("benchmark cancelled", "completed", len(all))
		job.complete(r.now().UTC(), summary, nil)
		r.notifyFinished(bg, job)
		return
	}

	update := summary.Baseline(job.Request.AgentType, p.mode, job.ID, r.now())
	merged, err := r.results.UpsertBaselinePerformance(bg, update)
	var baseline *agentqa.BaselinePerformance
	if err != nil {
		logger.Error("failed to update baseline performance", "error", err)
		job.warn(fmt.Sprintf("baseline not updated: %v", err))
	} else {
		baseline = &merged
	}

	logger.Info("benchmark completed",
		"results", summary.Total,
		"successful", summary.Successful,
		"mean_grade", summary.MeanGrade,
		"total_cost", summary.TotalCost)
	job.complete(r.now().UTC(), summary, baseline)
	r.notifyFinished(bg, job)
}

// runModel answers the questions for one model in order and saves them.
func (r *Runner) runModel(ctx context.Context, job *Job, p *plan, model string, logger *slog.Logger) []agentqa.ModelResult {
	var pacer *rate.Limiter
	if r.config.CallDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(r.config.CallDelay), 1)
	}

	results := make([]agentqa.ModelResult, 0, len(p.questions))
	for _, q := range p.questions {
		if job.Cancelled() || ctx.Err() != nil {
			break
		}
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				break
			}
		}

		result := r.runItem(ctx, job, p, model, q, logger)
		results = append(results, result)
		job.advance(result.Status)
		if r.observer != nil {
			r.observer.ItemCompleted(ctx, job.Request.AgentType, model, result)
		}
		r.watch.Check(ctx, job.ID)
	}

	if len(results) > 0 {
		saveCtx := context.WithoutCancel(ctx)
		if err := r.results.SaveModelResults(saveCtx, job.Request.AgentType, model, job.ID, results); err != nil {
			logger.Error("failed to save results", "error", err)
			job.warn(fmt.Sprintf("results for %s not saved: %v", model, err))
		}
	}
	return results
}

// runItem dispatches, grades and costs one (question, model) pair.
func (r *Runner) runItem(ctx context.Context, job *Job, p *plan, model string, q agentqa.BaselineQuestion, logger *slog.Logger) agentqa.ModelResult {
	agentType := job.Request.AgentType
	prompt := ResolvePrompt(q.QuestionText, job.Request.StateFilter)

	var response *agentqa.AgentResponse
	var elapsed time.Duration
	attempts, err := middleware.Retry(ctx, r.config.Retry, func(ctx context.Context, attempt int) error {
		start := time.Now()
		resp, callErr := middleware.WithTimeout(ctx, r.config.CallTimeout, func(ctx context.Context) (*agentqa.AgentResponse, error) {
			return p.agent.Dispatch(ctx, p.mode, prompt, agent.WithModel(model))
		})
		elapsed = time.Since(start)
		if callErr != nil {
			var backendErr *agentqa.BackendError
			if !errors.As(callErr, &backendErr) && middleware.IsTimeout(callErr) {
				callErr = agentqa.NewBackendError(agentType, p.mode, model, callErr)
			}
			return callErr
		}
		response = resp
		return nil
	})
	if err != nil {
		logger.Warn("benchmark item failed",
			"question_id", q.ID,
			"attempts", attempts,
			"error", err)
		result := agentqa.NewErrorResult(job.ID, q.ID, model, err)
		result.Prompt = prompt
		result.Attempts = attempts
		result.ResponseTimeMs = elapsed.Milliseconds()
		return result
	}

	gradeCtx, cancel := context.WithTimeout(ctx, r.config.GradeTimeout)
	verdict := r.grader.Grade(gradeCtx, evaluation.GradeRequest{
		QuestionID: q.ID,
		Model:      model,
		Question:   prompt,
		Expected:   q.ExpectedAnswer,
		Answer:     response.ResponseText,
	})
	cancel()

	usage := response.PerformanceMetrics.TokenUsage
	result := agentqa.ModelResult{
		RunID:             job.ID,
		QuestionID:        q.ID,
		Model:             model,
		Prompt:            prompt,
		AnswerText:        response.ResponseText,
		Grade:             verdict.Grade,
		GradingConfidence: verdict.Confidence,
		ConfidenceSource:  verdict.ConfidenceSource,
		ResponseTimeMs:    response.PerformanceMetrics.ResponseTimeMs,
		InputTokens:       usage.InputTokens,
		OutputTokens:      usage.OutputTokens,
		TokensEstimated:   usage.Estimated,
		Attempts:          attempts,
		Status:            agentqa.StatusSuccess,
		Timestamp:         r.now().UTC(),
	}
	if verdict.Err != nil {
		result.ErrorMessage = verdict.Err.Error()
	}

	cost, err := r.costs.Record(ctx, job.ID, agentType, model, usage.InputTokens, usage.OutputTokens, usage.Estimated)
	if err != nil {
		logger.Warn("failed to record cost", "question_id", q.ID, "error", err)
		result.Cost = r.costs.Pricing().Cost(model, usage.InputTokens, usage.OutputTokens)
	} else {
		result.Cost = cost.TotalCost
	}
	return result
}

func (r *Runner) notifyFinished(ctx context.Context, job *Job) {
	r.watch.Forget(job.ID)
	if r.observer != nil {
		r.observer.RunFinished(ctx, job.Request.AgentType, job.Progress())
	}
}

func dedupe(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
