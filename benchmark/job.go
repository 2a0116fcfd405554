package benchmark

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/evaluation"
)

// State is the lifecycle state of a benchmark run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Request describes one benchmark run.
type Request struct {
	AgentType string `json:"agent_type"`
	// Models to test. Empty means the model configured for Mode.
	Models []string `json:"models,omitempty"`
	// Mode names the execution mode (default "prompt").
	Mode string `json:"mode,omitempty"`
	// QuestionLimit truncates the question bank; 0 runs every question.
	QuestionLimit int `json:"question_limit,omitempty"`
	// StateFilter resolves {{state}} placeholders (default California).
	StateFilter string `json:"state_filter,omitempty"`
}

// Progress is a point-in-time snapshot of a run.
type Progress struct {
	RunID      string                       `json:"run_id"`
	AgentType  string                       `json:"agent_type"`
	Mode       string                       `json:"mode"`
	Models     []string                     `json:"models"`
	State      State                        `json:"state"`
	Total      int                          `json:"total"`
	Completed  int                          `json:"completed"`
	Failed     int                          `json:"failed"`
	Percent    float64                      `json:"percent"`
	Cancelled  bool                         `json:"cancelled"`
	Error      string                       `json:"error,omitempty"`
	Warnings   []string                     `json:"warnings,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
	StartedAt  *time.Time                   `json:"started_at,omitempty"`
	FinishedAt *time.Time                   `json:"finished_at,omitempty"`
	Summary    *evaluation.RunSummary       `json:"summary,omitempty"`
	Baseline   *agentqa.BaselinePerformance `json:"baseline,omitempty"`
}

// Job is one benchmark run.
//
// The state only moves forward: pending, running, then completed or
// failed. The completed counter only grows. Cancel sets a flag that the
// runner checks between items; already-saved results are kept.
type Job struct {
	ID      string
	Request Request

	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Bool

	mu         sync.RWMutex
	state      State
	models     []string
	mode       string
	err        string
	warnings   []string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	summary    *evaluation.RunSummary
	baseline   *agentqa.BaselinePerformance

	done chan struct{}
}

func newJob(id string, req Request, now time.Time) *Job {
	return &Job{
		ID:        id,
		Request:   req,
		state:     StatePending,
		createdAt: now,
		done:      make(chan struct{}),
	}
}

// Cancel requests that the run stop before its next item.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Done is closed when the run reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the run finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-j.done:
		return j.Progress(), nil
	case <-ctx.Done():
		return j.Progress(), ctx.Err()
	}
}

// Progress returns a snapshot of the run.
func (j *Job) Progress() Progress {
	j.mu.RLock()
	defer j.mu.RUnlock()

	p := Progress{
		RunID:     j.ID,
		AgentType: j.Request.AgentType,
		Mode:      j.mode,
		Models:    append([]string(nil), j.models...),
		State:     j.state,
		Total:     int(j.total.Load()),
		Completed: int(j.completed.Load()),
		Failed:    int(j.failed.Load()),
		Cancelled: j.cancelled.Load(),
		Error:     j.err,
		Warnings:  append([]string(nil), j.warnings...),
		CreatedAt: j.createdAt,
		Summary:   j.summary,
		Baseline:  j.baseline,
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		p.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		p.FinishedAt = &t
	}
	return p
}

func (j *Job) start(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return false
	}
	j.state = StateRunning
	j.startedAt = now
	return true
}

func (j *Job) plan(mode string, models []string, total int) {
	j.mu.Lock()
	j.mode = mode
	j.models = append([]string(nil), models...)
	j.mu.Unlock()
	j.total.Store(int64(total))
}

func (j *Job) advance(status agentqa.ResultStatus) {
	j.completed.Add(1)
	if status != agentqa.StatusSuccess {
		j.failed.Add(1)
	}
}

func (j *Job) warn(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.warnings = append(j.warnings, msg)
}

func (j *Job) complete(now time.Time, summary evaluation.RunSummary, baseline *agentqa.BaselinePerformance) {
	j.finish(now, StateCompleted, "", &summary, baseline)
}

func (j *Job) fail(now time.Time, err error) {
	j.finish(now, StateFailed, err.Error(), nil, nil)
}

func (j *Job) finish(now time.Time, state State, errMsg string, summary *evaluation.RunSummary, baseline *agentqa.BaselinePerformance) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = state
	j.err = errMsg
	j.summary = summary
	j.baseline = baseline
	j.finishedAt = now
	close(j.done)
}
