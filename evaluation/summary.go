package evaluation

import (
	"sort"
	"time"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"gonum.org/v1/gonum/stat"
)

// ModelSummary aggregates the results of one model in a run. Quality and
// latency statistics cover successful results only; failed items count
// towards Total and cost nothing.
type ModelSummary struct {
	Model          string  `json:"model"`
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	MeanGrade      float64 `json:"mean_grade"`
	MeanConfidence float64 `json:"mean_confidence"`
	MeanLatencyMs  float64 `json:"mean_latency_ms"`
	P95LatencyMs   float64 `json:"p95_latency_ms"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalCost      float64 `json:"total_cost"`
}

// SuccessRate returns Successful/Total, or 0 for an empty summary.
func (s ModelSummary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

// RunSummary aggregates a whole benchmark run.
type RunSummary struct {
	Models         []ModelSummary `json:"models"`
	Total          int            `json:"total"`
	Successful     int            `json:"successful"`
	MeanGrade      float64        `json:"mean_grade"`
	MeanConfidence float64        `json:"mean_confidence"`
	MeanLatencyMs  float64        `json:"mean_latency_ms"`
	P95LatencyMs   float64        `json:"p95_latency_ms"`
	TotalCost      float64        `json:"total_cost"`
}

type sample struct {
	grades, confidences, latencies []float64
}

func (s *sample) add(r agentqa.ModelResult) {
	s.grades = append(s.grades, r.Grade)
	s.confidences = append(s.confidences, r.GradingConfidence)
	s.latencies = append(s.latencies, float64(r.ResponseTimeMs))
}

func (s *sample) stats() (grade, confidence, latency, p95 float64) {
	if len(s.grades) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), s.latencies...)
	sort.Float64s(sorted)
	return stat.Mean(s.grades, nil),
		stat.Mean(s.confidences, nil),
		stat.Mean(s.latencies, nil),
		stat.Quantile(0.95, stat.Empirical, sorted, nil)
}

// Summarize aggregates results per model (sorted by model name) and overall.
func Summarize(results []agentqa.ModelResult) RunSummary {
	byModel := make(map[string]*ModelSummary)
	samples := make(map[string]*sample)
	var overall sample
	var summary RunSummary

	for _, r := range results {
		ms, ok := byModel[r.Model]
		if !ok {
			ms = &ModelSummary{Model: r.Model}
			byModel[r.Model] = ms
			samples[r.Model] = &sample{}
		}
		ms.Total++
		ms.InputTokens += r.InputTokens
		ms.OutputTokens += r.OutputTokens
		ms.TotalCost += r.Cost
		summary.Total++
		summary.TotalCost += r.Cost

		if r.Status != agentqa.StatusSuccess {
			continue
		}
		ms.Successful++
		summary.Successful++
		samples[r.Model].add(r)
		overall.add(r)
	}

	for model, ms := range byModel {
		ms.MeanGrade, ms.MeanConfidence, ms.MeanLatencyMs, ms.P95LatencyMs = samples[model].stats()
		summary.Models = append(summary.Models, *ms)
	}
	sort.Slice(summary.Models, func(i, j int) bool {
		return summary.Models[i].Model < summary.Models[j].Model
	})
	summary.MeanGrade, summary.MeanConfidence, summary.MeanLatencyMs, summary.P95LatencyMs = overall.stats()
	return summary
}

// Baseline converts the summary into the performance record merged after a
// completed run: accuracy is the mean grade, confidence the mean grading
// confidence, response time the mean latency.
func (s RunSummary) Baseline(agentType string, mode agentqa.Mode, runID string, at time.Time) agentqa.BaselinePerformance {
	return agentqa.BaselinePerformance{
		AgentType:         agentType,
		Mode:              mode,
		Accuracy:          s.MeanGrade,
		Confidence:        s.MeanConfidence,
		ResponseTimeMs:    s.MeanLatencyMs,
		TotalQueries:      s.Total,
		SuccessfulQueries: s.Successful,
		LastRunID:         runID,
		LastUpdated:       at.UTC(),
	}
}
