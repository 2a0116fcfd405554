/*
Middleware overhead benchmarks.

These benchmarks measure what the LLM decorator chain costs per call
compared with a backend that answers immediately.

Methodology:
1. Baseline: backend without decorators
2. Single decorator: stats, retry, timeout, circuit breaker, cache, tracing, metrics
3. Stacked: the chain the engine builds for a provider
4. Agent dispatch and judge output parsing, the other per-item costs of a run

A real completion takes 100-1000ms, so decorator overhead in the
microsecond range is invisible in benchmark wall time.

Run benchmarks with: go test -bench=. -benchmem ./benchmarks
*/

package benchmarks

import (
	"context"
	"testing"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/composition"
	"github.com/F8ai/formul8-platform-sub006/evaluation"
	"github.com/F8ai/formul8-platform-sub006/middleware"
	"github.com/F8ai/formul8-platform-sub006/observability"
)

// fastLLM answers immediately.
type fastLLM struct{}

func (f *fastLLM) Model() string { return "fast" }

func (f *fastLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	return agentqa.NewMessage("assistant", "Processed: "+messages[len(messages)-1].Content).
		WithMetadata("usage", llm.Usage{InputTokens: 10, OutputTokens: 5}), nil
}

func benchmarkBackend(b *testing.B, backend llm.LLM) {
	b.Helper()
	ctx := context.Background()
	msgs := []*agentqa.Message{agentqa.NewMessage("user", "What license does a distributor need?")}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := backend.Complete(ctx, msgs, llm.WithTemperature(0.2)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBaseline measures the backend without decorators.
func BenchmarkBaseline(b *testing.B) {
	benchmarkBackend(b, &fastLLM{})
}

func BenchmarkStats(b *testing.B) {
	benchmarkBackend(b, middleware.NewStatsLLM(&fastLLM{}))
}

// BenchmarkRetry measures the runner's retry helper when no retries are needed.
func BenchmarkRetry(b *testing.B) {
	backend := &fastLLM{}
	ctx := context.Background()
	msgs := []*agentqa.Message{agentqa.NewMessage("user", "What license does a distributor need?")}
	config := middleware.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := middleware.Retry(ctx, config, func(ctx context.Context, _ int) error {
			_, err := backend.Complete(ctx, msgs)
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkTimeout includes the goroutine and timer started per call.
func BenchmarkTimeout(b *testing.B) {
	benchmarkBackend(b, middleware.NewTimeoutLLM(&fastLLM{}, middleware.TimeoutConfig{Timeout: time.Second}))
}

func BenchmarkCircuitBreaker(b *testing.B) {
	benchmarkBackend(b, middleware.NewCircuitBreakerLLM(&fastLLM{}, middleware.DefaultCircuitBreakerConfig()))
}

// BenchmarkCacheHit measures a cache hit: key hashing plus a copy.
func BenchmarkCacheHit(b *testing.B) {
	cfg := middleware.DefaultCachingConfig()
	cfg.MaxTemperature = 1
	benchmarkBackend(b, middleware.NewCachingLLM(&fastLLM{}, cfg))
}

// BenchmarkTracing uses the global no-op provider, which is what runs
// when tracing is not configured.
func BenchmarkTracing(b *testing.B) {
	benchmarkBackend(b, observability.NewTracingLLM(&fastLLM{}))
}

func BenchmarkMetrics(b *testing.B) {
	backend, err := observability.NewMetricsLLM(&fastLLM{})
	if err != nil {
		b.Fatal(err)
	}
	benchmarkBackend(b, backend)
}

// BenchmarkFallbackPrimaryOK measures a fallback chain whose primary
// succeeds.
func BenchmarkFallbackPrimaryOK(b *testing.B) {
	chain, err := composition.NewFallbackLLM(&fastLLM{}, &fastLLM{})
	if err != nil {
		b.Fatal(err)
	}
	benchmarkBackend(b, chain)
}

// BenchmarkStacked builds the provider chain in engine order: timeout,
// circuit breaker, cache, tracing, metrics, then the engine-wide stats.
func BenchmarkStacked(b *testing.B) {
	var backend llm.LLM = &fastLLM{}
	backend = middleware.NewTimeoutLLM(backend, middleware.TimeoutConfig{Timeout: time.Second})
	backend = middleware.NewCircuitBreakerLLM(backend, middleware.DefaultCircuitBreakerConfig())
	backend = middleware.NewCachingLLM(backend, middleware.DefaultCachingConfig())
	backend = observability.NewTracingLLM(backend)
	measured, err := observability.NewMetricsLLM(backend)
	if err != nil {
		b.Fatal(err)
	}
	benchmarkBackend(b, middleware.NewStatsLLM(measured))
}

// BenchmarkAgentDispatch measures prompt assembly, confidence scoring and
// usage accounting around one backend call.
func BenchmarkAgentDispatch(b *testing.B) {
	a := agent.New(agent.Config{AgentType: "compliance", SystemPrompt: "You are a compliance expert."}, &fastLLM{})
	if err := a.SetModeConfig(agentqa.ModeConfig{
		Mode: agentqa.ModePrompt, ModelID: "fast", Temperature: 0.2, MaxTokens: 500, Active: true,
	}); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Dispatch(ctx, agentqa.ModePrompt, "What license does a distributor need?"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkJudgeParse measures repairing and validating a fenced judge
// reply.
func BenchmarkJudgeParse(b *testing.B) {
	parser := evaluation.MustStructuredParser("bench", `{"type": "object", "required": ["grade"]}`)
	raw := "Here is my assessment:\n```json\n{\"grade\": 82, \"confidence\": 70,}\n```"

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out struct {
			Grade      float64 `json:"grade"`
			Confidence float64 `json:"confidence"`
		}
		if err := parser.Parse(raw, &out); err != nil {
			b.Fatal(err)
		}
	}
}
