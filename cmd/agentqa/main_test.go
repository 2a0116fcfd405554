package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/benchmark"
)

// fakeOpenAI answers chat completions like an agent, a grader, a verifier
// or a coverage judge depending on the last message.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		prompt := req.Messages[len(req.Messages)-1].Content
		content := "Distributors need a Type 11 license from the state regulator."
		switch {
		case strings.Contains(prompt, "Grade the answer"):
			content = `{"grade": 90, "confidence": 80}`
		case strings.Contains(prompt, `"agrees"`):
			content = `{"agrees": false, "confidence": 70, "discrepancies": ["license type differs"]}`
		case strings.Contains(prompt, "Capability areas"):
			content = `{"coverage": 55, "confidence": 75, "gaps": ["packaging"], "strengths": ["licensing"], "recommendations": ["add packaging questions"], "functionalityMap": {"licensing": 90, "packaging": 20}}`
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 20, "total_tokens": 60},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

const testConfigTemplate = `
logging:
  level: error
providers:
  - kind: openai
    api_key: test-key
    base_url: %s/v1
agents:
  - type: compliance
    system_prompt: You are a compliance expert.
    capabilities: [licensing, packaging]
    modes:
      - mode: prompt
        model_id: gpt-4o
        temperature: 0.2
        max_tokens: 500
        active: true
  - type: science
    system_prompt: You are a cannabis scientist.
    modes:
      - mode: prompt
        model_id: gpt-4o
        temperature: 0.2
        max_tokens: 500
        active: true
benchmark:
  call_delay: 0s
  max_attempts: 1
pricing:
  - model: gpt-4o
    input_per_1k: 0.01
    output_per_1k: 0.03
storage:
  kind: file
  path: %s
  questions_dir: %s
`

const complianceQuestions = `
- id: q1
  question: What license does a distributor need in {{state}}?
  expected_answer: Type 11
  category: licensing
- id: q2
  question: What packaging rules apply in {{state}}?
  expected_answer: Child resistant packaging
  category: packaging
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	ts := fakeOpenAI(t)
	dir := t.TempDir()
	questionsDir := filepath.Join(dir, "questions")
	if err := os.MkdirAll(questionsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(questionsDir, "compliance.yaml"), []byte(complianceQuestions), 0o600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "agentqa.yaml")
	content := fmt.Sprintf(testConfigTemplate, ts.URL, filepath.Join(dir, "results"), questionsDir)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunFailedErrorDetection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", &RunFailedError{RunID: "r1", Message: "no question bank"}, true},
		{"wrapped", fmt.Errorf("benchmark: %w", &RunFailedError{RunID: "r1"}), true},
		{"other", errors.New("config error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runErr *RunFailedError
			if got := errors.As(tt.err, &runErr); got != tt.want {
				t.Errorf("errors.As = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModesCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "--json", "modes")
	if err != nil {
		t.Fatalf("modes failed: %v", err)
	}
	var modes map[string][]agentqa.ModeConfig
	if err := json.Unmarshal([]byte(out), &modes); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(modes) != 2 || len(modes["compliance"]) != 1 || modes["compliance"][0].ModelID != "gpt-4o" {
		t.Errorf("unexpected modes %+v", modes)
	}

	if _, err := run(t, "--config", cfg, "modes", "finance"); err == nil {
		t.Error("expected an error for an unknown agent")
	}
}

func TestQueryCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "--json", "query", "compliance", "What", "license", "do", "I", "need?")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	var resp agentqa.AgentResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Query != "What license do I need?" || !strings.Contains(resp.ResponseText, "Type 11") {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.PerformanceMetrics.TokenUsage.InputTokens != 40 {
		t.Errorf("usage not reported: %+v", resp.PerformanceMetrics.TokenUsage)
	}

	if _, err := run(t, "--config", cfg, "query", "compliance", "--mode", "rag", "q"); err == nil {
		t.Error("expected an error for an unconfigured mode")
	}
}

func TestBenchmarkCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "--json", "benchmark", "compliance", "--interval", "10ms", "--state", "OR")
	if err != nil {
		t.Fatalf("benchmark failed: %v", err)
	}
	var progress benchmark.Progress
	if err := json.Unmarshal([]byte(out), &progress); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if progress.State != benchmark.StateCompleted || progress.Completed != 2 || progress.Summary == nil {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if progress.Summary.MeanGrade != 90 || progress.Summary.TotalCost <= 0 {
		t.Errorf("unexpected summary %+v", progress.Summary)
	}

	// The file store outlives the process, so the baseline is readable by
	// a later invocation.
	out, err = run(t, "--config", cfg, "modes", "baseline", "compliance", "prompt")
	if err != nil {
		t.Fatalf("baseline failed: %v", err)
	}
	var baseline agentqa.BaselinePerformance
	if err := json.Unmarshal([]byte(out), &baseline); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if baseline.TotalQueries != 2 || baseline.LastRunID != progress.RunID {
		t.Errorf("unexpected baseline %+v", baseline)
	}
}

func TestBenchmarkCommandWithoutQuestions(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, "--config", cfg, "--json", "benchmark", "science", "--interval", "10ms")
	var runErr *RunFailedError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunFailedError, got %v", err)
	}
}

func TestVerifyCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "--json", "verify", "compliance", "science", "Which", "license?")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	var result struct {
		Primary      agentqa.AgentResponse      `json:"primary"`
		Verification agentqa.VerificationResult `json:"verification"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if result.Verification.ConsensusReached || len(result.Verification.Discrepancies) != 1 {
		t.Errorf("unexpected verification %+v", result.Verification)
	}
}

func TestCoverageCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "--json", "coverage", "compliance")
	if err != nil {
		t.Fatalf("coverage failed: %v", err)
	}
	var analysis agentqa.CoverageAnalysis
	if err := json.Unmarshal([]byte(out), &analysis); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if analysis.Coverage != 55 || analysis.FunctionalityMap["packaging"] != 20 {
		t.Errorf("unexpected coverage %+v", analysis)
	}
}
