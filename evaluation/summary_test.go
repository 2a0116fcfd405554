package evaluation

import (
	"testing"
	"time"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

func TestSummarize(t *testing.T) {
	ok := func(model string, grade, confidence float64, latency int64, cost float64) agentqa.ModelResult {
		return agentqa.ModelResult{Model: model, Grade: grade, GradingConfidence: confidence, ResponseTimeMs: latency, Cost: cost, InputTokens: 100, OutputTokens: 50, Status: agentqa.StatusSuccess}
	}
	results := []agentqa.ModelResult{
		ok("m2", 80, 70, 200, 0.01),
		ok("m1", 90, 80, 100, 0.02),
		ok("m1", 70, 60, 300, 0.02),
		{Model: "m1", Status: agentqa.StatusError, ErrorMessage: "timeout"},
	}

	summary := Summarize(results)
	if summary.Total != 4 || summary.Successful != 3 {
		t.Errorf("Unexpected counts %d/%d", summary.Successful, summary.Total)
	}
	if summary.MeanGrade != 80 || summary.MeanConfidence != 70 || summary.MeanLatencyMs != 200 {
		t.Errorf("Unexpected means %+v", summary)
	}
	if diff := summary.TotalCost - 0.05; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCost = %v", summary.TotalCost)
	}

	if len(summary.Models) != 2 || summary.Models[0].Model != "m1" {
		t.Fatalf("Expected models sorted by name, got %+v", summary.Models)
	}
	m1 := summary.Models[0]
	if m1.Total != 3 || m1.Successful != 2 || m1.MeanGrade != 80 || m1.P95LatencyMs != 300 {
		t.Errorf("Unexpected m1 summary %+v", m1)
	}
	if m1.SuccessRate() < 0.66 || m1.SuccessRate() > 0.67 {
		t.Errorf("SuccessRate = %v", m1.SuccessRate())
	}
}

func TestSummarizeAllFailed(t *testing.T) {
	summary := Summarize([]agentqa.ModelResult{{Model: "m1", Status: agentqa.StatusError}})
	if summary.MeanGrade != 0 || summary.Models[0].P95LatencyMs != 0 {
		t.Errorf("Expected zero statistics, got %+v", summary)
	}
	if (ModelSummary{}).SuccessRate() != 0 {
		t.Error("Expected zero success rate for empty summary")
	}
}

func TestRunSummaryBaseline(t *testing.T) {
	at := time.Date(2025, 5, 1, 8, 0, 0, 0, time.FixedZone("PDT", -7*3600))
	summary := RunSummary{Total: 10, Successful: 8, MeanGrade: 72.5, MeanConfidence: 66, MeanLatencyMs: 1200}

	baseline := summary.Baseline("compliance", agentqa.ModeRAG, "run-1", at)
	if baseline.Accuracy != 72.5 || baseline.Confidence != 66 || baseline.ResponseTimeMs != 1200 {
		t.Errorf("Unexpected metrics %+v", baseline)
	}
	if baseline.TotalQueries != 10 || baseline.SuccessfulQueries != 8 || baseline.Mode != agentqa.ModeRAG || baseline.LastRunID != "run-1" {
		t.Errorf("Unexpected record %+v", baseline)
	}
	if baseline.LastUpdated.Location() != time.UTC {
		t.Error("Expected UTC timestamp")
	}
}
