package agentqa

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestMergeBaseline(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first record", func(t *testing.T) {
		update := BaselinePerformance{AgentType: "compliance", Accuracy: 80, TotalQueries: 10, SuccessfulQueries: 9, LastUpdated: now}
		merged := MergeBaseline(nil, update)
		if merged != update {
			t.Errorf("Expected update unchanged, got %+v", merged)
		}
	})

	t.Run("override and accumulate", func(t *testing.T) {
		existing := &BaselinePerformance{AgentType: "compliance", Accuracy: 60, Confidence: 70, ResponseTimeMs: 900, TotalQueries: 10, SuccessfulQueries: 8, LastUpdated: now}
		update := BaselinePerformance{AgentType: "compliance", Accuracy: 85, Confidence: 75, ResponseTimeMs: 400, TotalQueries: 5, SuccessfulQueries: 5, LastUpdated: now.Add(time.Hour)}

		merged := MergeBaseline(existing, update)
		if merged.Accuracy != 85 || merged.Confidence != 75 || merged.ResponseTimeMs != 400 {
			t.Errorf("Expected new metrics to override, got %+v", merged)
		}
		if merged.TotalQueries != 15 || merged.SuccessfulQueries != 13 {
			t.Errorf("Expected counters to accumulate, got %d/%d", merged.SuccessfulQueries, merged.TotalQueries)
		}
	})

	t.Run("timestamp never regresses", func(t *testing.T) {
		existing := &BaselinePerformance{LastUpdated: now}
		update := BaselinePerformance{LastUpdated: now.Add(-time.Minute)}
		merged := MergeBaseline(existing, update)
		if !merged.LastUpdated.After(existing.LastUpdated) {
			t.Errorf("Expected timestamp after %v, got %v", existing.LastUpdated, merged.LastUpdated)
		}
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "slow" }
func (timeoutErr) Timeout() bool { return true }

func TestBackendErrorTimeout(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"timeout interface", fmt.Errorf("call: %w", timeoutErr{}), true},
		{"other", errors.New("quota exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewBackendError("compliance", ModePrompt, "m1", tt.cause)
			if got := err.Timeout(); got != tt.want {
				t.Errorf("Timeout() = %v, want %v", got, tt.want)
			}
			if !errors.Is(err, tt.cause) {
				t.Error("Expected BackendError to unwrap to its cause")
			}
		})
	}
}

func TestClamp(t *testing.T) {
	for _, tt := range []struct{ in, want float64 }{{-5, 0}, {0, 0}, {55.5, 55.5}, {100, 100}, {140, 100}, {math.NaN(), 0}, {math.Inf(1), 100}, {math.Inf(-1), 0}} {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
