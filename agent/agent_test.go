package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/retrieval"
	"github.com/goccy/go-json"
)

type mockLLM struct {
	completeFunc func(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error)
	lastMessages []*agentqa.Message
	lastOptions  *llm.CallOptions
}

func (m *mockLLM) Model() string { return "mock-model" }

func (m *mockLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	m.lastMessages = messages
	m.lastOptions = llm.BuildCallOptions(opts...)
	if m.completeFunc != nil {
		return m.completeFunc(ctx, messages, opts...)
	}
	return agentqa.NewMessage("assistant", "Distributors need a Type 11 license."), nil
}

type stubRetriever struct {
	passages []retrieval.Passage
	err      error
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]retrieval.Passage, error) {
	return s.passages, s.err
}

func newTestAgent(t *testing.T, backend llm.LLM, opts ...Option) *Agent {
	t.Helper()
	a := New(Config{AgentType: "compliance", SystemPrompt: "You are a cannabis compliance expert."}, backend, opts...)
	for _, mode := range agentqa.Modes() {
		cfg := agentqa.ModeConfig{Mode: mode, ModelID: "gpt-4o", Temperature: 0.2, MaxTokens: 500, Active: true}
		switch mode {
		case agentqa.ModeRAG:
			cfg.RetrievalEnabled = true
		case agentqa.ModeKnowledgeBase, agentqa.ModeExternalFlow:
			cfg.RetrievalEnabled = true
			cfg.KnowledgeBaseEnabled = true
		}
		if err := a.SetModeConfig(cfg); err != nil {
			t.Fatalf("SetModeConfig(%s) failed: %v", mode, err)
		}
	}
	return a
}

func TestDispatchSystemPrompt(t *testing.T) {
	tests := []struct {
		mode       agentqa.Mode
		wantSystem bool
	}{
		{agentqa.ModeRaw, false},
		{agentqa.ModePrompt, true},
		{agentqa.ModeRAG, true},
		{agentqa.ModeKnowledgeBase, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			backend := &mockLLM{}
			a := newTestAgent(t, backend)

			if _, err := a.Dispatch(context.Background(), tt.mode, "What does a distributor need?"); err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			hasSystem := backend.lastMessages[0].Role == "system"
			if hasSystem != tt.wantSystem {
				t.Errorf("system prompt present = %v, want %v", hasSystem, tt.wantSystem)
			}
			if *backend.lastOptions.Temperature != 0.2 || *backend.lastOptions.MaxTokens != 500 || backend.lastOptions.Model != "gpt-4o" {
				t.Errorf("Mode config not forwarded: %+v", backend.lastOptions)
			}
		})
	}
}

func TestDispatchConfigErrors(t *testing.T) {
	a := New(Config{AgentType: "compliance"}, &mockLLM{})

	_, err := a.Dispatch(context.Background(), agentqa.ModePrompt, "q")
	var cfgErr *agentqa.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError for unconfigured mode, got %v", err)
	}

	_ = a.SetModeConfig(agentqa.ModeConfig{Mode: agentqa.ModePrompt, ModelID: "m", Temperature: 0.5, MaxTokens: 10, Active: true})
	inactive := false
	if _, err := a.UpdateModeConfig(agentqa.ModePrompt, agentqa.ModeConfigPatch{Active: &inactive}); err != nil {
		t.Fatalf("UpdateModeConfig failed: %v", err)
	}
	if _, err := a.Dispatch(context.Background(), agentqa.ModePrompt, "q"); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigError for inactive mode, got %v", err)
	}
	if a.GetModeConfig(agentqa.ModePrompt) == nil {
		t.Error("Disabling must keep the mode config")
	}

	if _, err := a.Dispatch(context.Background(), agentqa.Mode(42), "q"); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigError for unknown mode, got %v", err)
	}
}

func TestDispatchBackendError(t *testing.T) {
	boom := errors.New("quota exceeded")
	backend := &mockLLM{completeFunc: func(context.Context, []*agentqa.Message, ...llm.CallOption) (*agentqa.Message, error) {
		return nil, boom
	}}
	a := newTestAgent(t, backend)

	_, err := a.Dispatch(context.Background(), agentqa.ModePrompt, "q", WithModel("m1"))
	var backendErr *agentqa.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Expected BackendError, got %v", err)
	}
	if backendErr.Model != "m1" || backendErr.Mode != agentqa.ModePrompt || !errors.Is(err, boom) {
		t.Errorf("Unexpected BackendError %+v", backendErr)
	}
}

func TestDispatchUsage(t *testing.T) {
	t.Run("reported", func(t *testing.T) {
		backend := &mockLLM{completeFunc: func(context.Context, []*agentqa.Message, ...llm.CallOption) (*agentqa.Message, error) {
			resp := agentqa.NewMessage("assistant", "answer")
			resp.Metadata["usage"] = llm.Usage{InputTokens: 120, OutputTokens: 30}
			return resp, nil
		}}
		resp, err := newTestAgent(t, backend).Dispatch(context.Background(), agentqa.ModePrompt, "q")
		if err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		usage := resp.PerformanceMetrics.TokenUsage
		if usage.InputTokens != 120 || usage.OutputTokens != 30 || usage.TotalTokens != 150 || usage.Estimated {
			t.Errorf("Unexpected usage %+v", usage)
		}
		if _, leaked := resp.Metadata["usage"]; leaked {
			t.Error("Usage should not be duplicated in metadata")
		}
	})

	t.Run("estimated", func(t *testing.T) {
		backend := &mockLLM{completeFunc: func(context.Context, []*agentqa.Message, ...llm.CallOption) (*agentqa.Message, error) {
			return agentqa.NewMessage("assistant", strings.Repeat("a", 41)), nil
		}}
		a := New(Config{AgentType: "compliance", SystemPrompt: strings.Repeat("s", 20)}, backend)
		_ = a.SetModeConfig(agentqa.ModeConfig{Mode: agentqa.ModePrompt, ModelID: "m", Temperature: 0.1, MaxTokens: 10, Active: true})

		resp, err := a.Dispatch(context.Background(), agentqa.ModePrompt, strings.Repeat("u", 20))
		if err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		usage := resp.PerformanceMetrics.TokenUsage
		if !usage.Estimated || usage.InputTokens != 10 || usage.OutputTokens != 11 {
			t.Errorf("Unexpected estimated usage %+v", usage)
		}
	})
}

func TestDispatchPassages(t *testing.T) {
	rag := &stubRetriever{passages: []retrieval.Passage{{Content: "Type 11 covers distribution.", Source: "CCR 15315"}}}
	kb := &stubRetriever{passages: []retrieval.Passage{{Content: "Transport-only licenses exist.", Source: "DCC FAQ"}, {Content: "dup", Source: "CCR 15315"}}}
	backend := &mockLLM{}
	a := newTestAgent(t, backend, WithRetriever(rag), WithKnowledgeBase(kb))

	resp, err := a.Dispatch(context.Background(), agentqa.ModeKnowledgeBase, "Which license for distribution?")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	user := backend.lastMessages[len(backend.lastMessages)-1].Content
	if !strings.Contains(user, "Type 11 covers distribution.") || !strings.Contains(user, "Transport-only") || !strings.HasSuffix(user, "Question: Which license for distribution?") {
		t.Errorf("Passages not in prompt: %q", user)
	}
	if resp.PerformanceMetrics.RetrievalHits != 1 || resp.PerformanceMetrics.KnowledgeBaseHits != 2 {
		t.Errorf("Unexpected hits %+v", resp.PerformanceMetrics)
	}
	if len(resp.Sources) != 2 || resp.Sources[0] != "CCR 15315" || resp.Sources[1] != "DCC FAQ" {
		t.Errorf("Expected deduplicated sources, got %v", resp.Sources)
	}
	if resp.Confidence != 85 {
		t.Errorf("Expected sourced answer confidence 85, got %v", resp.Confidence)
	}

	// Prompt mode ignores the retrievers.
	resp, _ = a.Dispatch(context.Background(), agentqa.ModePrompt, "q")
	if resp.PerformanceMetrics.RetrievalHits != 0 || len(resp.Sources) != 0 {
		t.Errorf("Prompt mode should not retrieve, got %+v", resp.PerformanceMetrics)
	}
}

func TestDispatchRetrieverFailureDegrades(t *testing.T) {
	backend := &mockLLM{}
	a := newTestAgent(t, backend, WithRetriever(&stubRetriever{err: errors.New("index offline")}))

	resp, err := a.Dispatch(context.Background(), agentqa.ModeRAG, "q")
	if err != nil {
		t.Fatalf("Expected dispatch to continue, got %v", err)
	}
	if resp.PerformanceMetrics.RetrievalHits != 0 {
		t.Errorf("Expected no hits, got %d", resp.PerformanceMetrics.RetrievalHits)
	}
}

func TestDispatchConfidence(t *testing.T) {
	reported := func(c float64) *mockLLM {
		return &mockLLM{completeFunc: func(context.Context, []*agentqa.Message, ...llm.CallOption) (*agentqa.Message, error) {
			resp := agentqa.NewMessage("assistant", "ok")
			resp.Metadata["confidence"] = c
			return resp, nil
		}}
	}

	tests := []struct {
		name       string
		backend    *mockLLM
		rules      []ConfidenceRule
		context    map[string]interface{}
		want       float64
		wantReview bool
	}{
		{"plain text", &mockLLM{}, nil, nil, 70, false},
		{"reported clamps high", reported(140), nil, nil, 100, false},
		{"reported clamps low", reported(-3), nil, nil, 0, true},
		{"missing sources penalty", &mockLLM{}, []ConfidenceRule{MissingSourcesPenalty(-20)}, nil, 50, true},
		{
			name:       "executive escalation",
			backend:    &mockLLM{},
			rules:      []ConfidenceRule{MetadataMatch("escalation_level", "executive", -25)},
			context:    map[string]interface{}{"escalation_level": "Executive"},
			want:       45,
			wantReview: true,
		},
		{"rules never exceed 100", reported(95), []ConfidenceRule{{Name: "boost", Delta: 30, When: func(ConfidenceInput) bool { return true }}}, nil, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, tt.backend, WithRules(tt.rules...))
			resp, err := a.RunQuery(context.Background(), agentqa.ModePrompt, "q", tt.context)
			if err != nil {
				t.Fatalf("RunQuery failed: %v", err)
			}
			if resp.Confidence != tt.want {
				t.Errorf("Confidence = %v, want %v", resp.Confidence, tt.want)
			}
			if resp.RequiresHumanVerification != tt.wantReview {
				t.Errorf("RequiresHumanVerification = %v, want %v", resp.RequiresHumanVerification, tt.wantReview)
			}
		})
	}
}

func TestExternalFlow(t *testing.T) {
	var captured FlowRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"text":"flow answer","sources":["flow-doc"],"confidence":77,"usage":{"input_tokens":5,"output_tokens":6}}`))
	}))
	defer server.Close()

	backend := &mockLLM{}
	a := newTestAgent(t, backend, WithExternalFlow(NewHTTPFlow(server.URL, "")))

	resp, err := a.Dispatch(context.Background(), agentqa.ModeExternalFlow, "q")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if backend.lastMessages != nil {
		t.Error("External mode should bypass the backend")
	}
	if resp.ResponseText != "flow answer" || resp.Confidence != 77 || resp.Sources[0] != "flow-doc" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if resp.PerformanceMetrics.TokenUsage.TotalTokens != 11 {
		t.Errorf("Unexpected usage %+v", resp.PerformanceMetrics.TokenUsage)
	}
	if captured.AgentType != "compliance" || captured.Model != "gpt-4o" || captured.SystemPrompt == "" {
		t.Errorf("Unexpected flow request %+v", captured)
	}

	// Without a flow, external mode falls back to the backend.
	plain := newTestAgent(t, backend)
	if _, err := plain.Dispatch(context.Background(), agentqa.ModeExternalFlow, "q"); err != nil || backend.lastMessages == nil {
		t.Errorf("Expected backend call without a flow, got %v", err)
	}
}

func TestModeConfigIdempotentRead(t *testing.T) {
	a := newTestAgent(t, &mockLLM{})
	first := a.GetModeConfig(agentqa.ModeRAG)
	second := a.GetModeConfig(agentqa.ModeRAG)
	if *first != *second {
		t.Errorf("Expected equal configs, got %+v and %+v", first, second)
	}

	first.ModelID = "mutated"
	if a.GetModeConfig(agentqa.ModeRAG).ModelID == "mutated" {
		t.Error("GetModeConfig must return a copy")
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(newTestAgent(t, &mockLLM{}))

	if types := registry.Types(); len(types) != 1 || types[0] != "compliance" {
		t.Errorf("Unexpected types %v", types)
	}
	if _, err := registry.Dispatch(context.Background(), "compliance", agentqa.ModePrompt, "q"); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	_, err := registry.Get("marketing")
	var cfgErr *agentqa.ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Expected ConfigError wrapping ErrUnknownAgent, got %v", err)
	}
}
