package budget

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Watch logs once per threshold as a run's spend approaches its budget.
// It never stops the run.
//
// Example:
//
//	watch := NewWatch(tracker, 5.00, nil) // warn at 50%, 75%, 90% of $5
//	crossed := watch.Check(ctx, runID)
type Watch struct {
	tracker    *CostTracker
	budget     float64
	thresholds []float64
	logger     *slog.Logger

	mu     sync.Mutex
	warned map[string]map[float64]bool
}

// NewWatch creates a watch for a per-run budget. A non-positive budget
// disables it. Nil thresholds default to 0.5, 0.75 and 0.9.
func NewWatch(tracker *CostTracker, budget float64, thresholds []float64) *Watch {
	if thresholds == nil {
		thresholds = []float64{0.5, 0.75, 0.9}
	}
	sorted := append([]float64(nil), thresholds...)
	sort.Float64s(sorted)

	return &Watch{
		tracker:    tracker,
		budget:     budget,
		thresholds: sorted,
		logger:     slog.Default().With("component", "budget"),
		warned:     make(map[string]map[float64]bool),
	}
}

// Check compares the run's spend with the budget and returns thresholds
// crossed for the first time by this call.
func (w *Watch) Check(ctx context.Context, runID string) []float64 {
	if w == nil || w.budget <= 0 {
		return nil
	}

	current, err := w.tracker.RunCost(ctx, runID)
	if err != nil {
		w.logger.Warn("Failed to read run cost", "run_id", runID, "error", err)
		return nil
	}
	usage := current / w.budget

	w.mu.Lock()
	defer w.mu.Unlock()

	seen, ok := w.warned[runID]
	if !ok {
		seen = make(map[float64]bool)
		w.warned[runID] = seen
	}

	var crossed []float64
	for _, threshold := range w.thresholds {
		if usage >= threshold && !seen[threshold] {
			seen[threshold] = true
			crossed = append(crossed, threshold)
			w.logger.Warn("Run approaching budget",
				"run_id", runID,
				"usage_pct", usage*100,
				"spent", current,
				"budget", w.budget,
			)
		}
	}
	return crossed
}

// Forget drops the warning state for a finished run.
func (w *Watch) Forget(runID string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.warned, runID)
}
