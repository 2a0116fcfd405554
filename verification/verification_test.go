package verification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

type mockLLM struct {
	completeFunc func(ctx context.Context, prompt string) (*agentqa.Message, error)
	lastPrompt   string
}

func (m *mockLLM) Model() string { return "verifier-model" }

func (m *mockLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	m.lastPrompt = messages[len(messages)-1].Content
	return m.completeFunc(ctx, m.lastPrompt)
}

func replying(text string) *mockLLM {
	return &mockLLM{completeFunc: func(context.Context, string) (*agentqa.Message, error) {
		return agentqa.NewMessage("assistant", text), nil
	}}
}

func newVerifier(t *testing.T, backend *mockLLM, config Config) *Verifier {
	t.Helper()
	science := agent.New(agent.Config{AgentType: "science", SystemPrompt: "You are a cannabis scientist."}, backend)
	if err := science.SetModeConfig(agentqa.ModeConfig{Mode: agentqa.ModePrompt, ModelID: "gpt-4o", Temperature: 0.1, MaxTokens: 300, Active: true}); err != nil {
		t.Fatal(err)
	}
	registry := agent.NewRegistry()
	registry.Register(science)
	return New(registry, config)
}

func primary(confidence float64) *agentqa.AgentResponse {
	return &agentqa.AgentResponse{
		AgentType:    "compliance",
		ResponseText: "CBN is mildly psychoactive and regulated like THC in California.",
		Confidence:   confidence,
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name          string
		primary       float64
		verdict       Verdict
		wantConsensus bool
		wantFinal     float64
	}{
		{"disagree", 90, Verdict{Agrees: false, Confidence: 65}, false, 50},
		{"agree close", 80, Verdict{Agrees: true, Confidence: 88}, true, 80},
		{"agree but far apart", 90, Verdict{Agrees: true, Confidence: 60}, false, 45},
		{"agree at boundary", 50, Verdict{Agrees: true, Confidence: 70}, false, 35},
		{"disagree floor", 10, Verdict{Agrees: false, Confidence: 5}, false, 0},
		{"out of range clamped", 120, Verdict{Agrees: true, Confidence: 95}, true, 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consensus, final := Decide(tt.primary, tt.verdict)
			if consensus != tt.wantConsensus || final != tt.wantFinal {
				t.Errorf("Decide() = %v, %v; want %v, %v", consensus, final, tt.wantConsensus, tt.wantFinal)
			}
		})
	}
}

func TestDecideNeverRaises(t *testing.T) {
	for p := 0.0; p <= 100; p += 5 {
		for c := 0.0; c <= 100; c += 5 {
			for _, agrees := range []bool{true, false} {
				consensus, final := Decide(p, Verdict{Agrees: agrees, Confidence: c})
				if final > p {
					t.Fatalf("final %v exceeds primary %v", final, p)
				}
				lower := p
				if c < lower {
					lower = c
				}
				if !agrees && lower > 0 && final >= lower {
					t.Fatalf("disagreement did not lower confidence: p=%v c=%v final=%v", p, c, final)
				}
				if consensus && !agrees {
					t.Fatal("consensus without agreement")
				}
			}
		}
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		primary        float64
		wantConsensus  bool
		wantFinal      float64
		wantRecommend  string
		wantDiscrepant int
	}{
		{
			name:           "disagreement",
			reply:          `{"agrees": false, "confidence": 65, "discrepancies": ["CBN is not scheduled like THC"]}`,
			primary:        90,
			wantConsensus:  false,
			wantFinal:      50,
			wantRecommend:  RecommendationEscalate,
			wantDiscrepant: 1,
		},
		{
			name:          "agreement",
			reply:         "```json\n{\"agrees\": true, \"confidence\": 88}\n```",
			primary:       80,
			wantConsensus: true,
			wantFinal:     80,
			wantRecommend: RecommendationVerified,
		},
		{
			name:           "unreadable verdict",
			reply:          "I mostly agree.",
			primary:        80,
			wantConsensus:  false,
			wantFinal:      50,
			wantRecommend:  RecommendationEscalate,
			wantDiscrepant: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := replying(tt.reply)
			v := newVerifier(t, backend, Config{})

			result, err := v.Verify(context.Background(), primary(tt.primary), "science", "Is CBN psychoactive?")
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if result.ConsensusReached != tt.wantConsensus || result.FinalConfidence != tt.wantFinal {
				t.Errorf("got consensus=%v final=%v, want %v/%v", result.ConsensusReached, result.FinalConfidence, tt.wantConsensus, tt.wantFinal)
			}
			if result.Recommendation != tt.wantRecommend {
				t.Errorf("Recommendation = %q", result.Recommendation)
			}
			if len(result.Discrepancies) != tt.wantDiscrepant {
				t.Errorf("Discrepancies = %v", result.Discrepancies)
			}
			if result.RequiresHumanReview() == tt.wantConsensus {
				t.Error("RequiresHumanReview must be the inverse of consensus")
			}
			if result.PrimaryAgent != "compliance" || result.VerifyingAgent != "science" {
				t.Errorf("Unexpected agents %+v", result)
			}
		})
	}
}

func TestVerifyBackendFailure(t *testing.T) {
	backend := &mockLLM{completeFunc: func(context.Context, string) (*agentqa.Message, error) {
		return nil, errors.New("connection reset")
	}}
	v := newVerifier(t, backend, Config{})

	for _, tt := range []struct{ primary, want float64 }{{85, 55}, {20, 0}} {
		result, err := v.Verify(context.Background(), primary(tt.primary), "science", "q")
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.ConsensusReached || result.FinalConfidence != tt.want {
			t.Errorf("primary %v: got %+v", tt.primary, result)
		}
		if len(result.Discrepancies) != 1 || result.Discrepancies[0] != FailureDiscrepancy {
			t.Errorf("Unexpected discrepancies %v", result.Discrepancies)
		}
	}
}

func TestVerifyTimeout(t *testing.T) {
	backend := &mockLLM{completeFunc: func(ctx context.Context, _ string) (*agentqa.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	v := newVerifier(t, backend, Config{Timeout: 20 * time.Millisecond})

	result, err := v.Verify(context.Background(), primary(70), "science", "q")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.ConsensusReached || result.FinalConfidence != 40 {
		t.Errorf("Expected failure branch, got %+v", result)
	}
}

func TestVerifyErrors(t *testing.T) {
	v := newVerifier(t, replying("{}"), Config{})

	_, err := v.Verify(context.Background(), primary(80), "marketing", "q")
	var cfgErr *agentqa.ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, agent.ErrUnknownAgent) {
		t.Errorf("Expected unknown agent ConfigError, got %v", err)
	}
	if _, err := v.Verify(context.Background(), nil, "science", "q"); err == nil {
		t.Error("Expected error for nil primary")
	}
}

func TestBuildPrompt(t *testing.T) {
	backend := replying(`{"agrees": true, "confidence": 80}`)
	v := newVerifier(t, backend, Config{})
	_, _ = v.Verify(context.Background(), primary(72), "science", "Is CBN psychoactive?")

	for _, want := range []string{"Is CBN psychoactive?", "CBN is mildly psychoactive", "72/100", `"agrees"`} {
		if !strings.Contains(backend.lastPrompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
}
