package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/benchmark"
)

// MetricsExport is an installed meter provider together with the
// Prometheus registry it exports to.
type MetricsExport struct {
	Provider *sdkmetric.MeterProvider
	Registry *promclient.Registry
}

// InitMetrics installs a global meter provider exported through a
// dedicated Prometheus registry.
func InitMetrics(ctx context.Context, serviceName string) (*MetricsExport, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &MetricsExport{Provider: provider, Registry: registry}, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsExport) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsExport) Shutdown(ctx context.Context) error {
	return m.Provider.Shutdown(ctx)
}

// Meter returns a meter from the current global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// MetricsLLM records request counts, latency and token usage per model.
type MetricsLLM struct {
	backend  llm.LLM
	requests metric.Int64Counter
	errors   metric.Int64Counter
	latency  metric.Float64Histogram
	tokens   metric.Int64Counter
}

var _ llm.LLM = (*MetricsLLM)(nil)

// NewMetricsLLM creates a metrics decorator using the global meter.
func NewMetricsLLM(backend llm.LLM) (*MetricsLLM, error) {
	meter := Meter()

	requests, err := meter.Int64Counter("agentqa.llm.requests",
		metric.WithDescription("Total number of LLM completions"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	errs, err := meter.Int64Counter("agentqa.llm.errors",
		metric.WithDescription("Total number of failed LLM completions"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	latency, err := meter.Float64Histogram("agentqa.llm.latency",
		metric.WithDescription("LLM completion latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	tokens, err := meter.Int64Counter("agentqa.llm.tokens",
		metric.WithDescription("Tokens reported by LLM backends"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	return &MetricsLLM{
		backend:  backend,
		requests: requests,
		errors:   errs,
		latency:  latency,
		tokens:   tokens,
	}, nil
}

// Model returns the wrapped backend's default model.
func (m *MetricsLLM) Model() string {
	return m.backend.Model()
}

// Complete calls the wrapped backend and records the outcome.
func (m *MetricsLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	model := llm.BuildCallOptions(opts...).ModelFor(m.backend.Model())
	start := time.Now()

	response, err := m.backend.Complete(ctx, messages, opts...)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("status", status))
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, latencyMs, attrs)

	if err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
		return nil, err
	}

	if usage, ok := llm.UsageFromMessage(response); ok {
		m.tokens.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
			attribute.String("model", model), attribute.String("direction", "input")))
		m.tokens.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
			attribute.String("model", model), attribute.String("direction", "output")))
	}
	return response, nil
}

// EngineMetrics holds the benchmark and verification instruments. It
// implements benchmark.Observer.
type EngineMetrics struct {
	items         metric.Int64Counter
	grades        metric.Float64Histogram
	itemLatency   metric.Float64Histogram
	cost          metric.Float64Counter
	runs          metric.Int64Counter
	verifications metric.Int64Counter
}

var _ benchmark.Observer = (*EngineMetrics)(nil)

// NewEngineMetrics creates the instruments using the global meter.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := Meter()
	m := &EngineMetrics{}
	var err error

	if m.items, err = meter.Int64Counter("agentqa.benchmark.items",
		metric.WithDescription("Benchmark (question, model) pairs processed"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create item counter: %w", err)
	}
	if m.grades, err = meter.Float64Histogram("agentqa.benchmark.grade",
		metric.WithDescription("Rubric grades of successful benchmark answers"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100)); err != nil {
		return nil, fmt.Errorf("failed to create grade histogram: %w", err)
	}
	if m.itemLatency, err = meter.Float64Histogram("agentqa.benchmark.response_time",
		metric.WithDescription("Agent response time per benchmark item"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	if m.cost, err = meter.Float64Counter("agentqa.benchmark.cost",
		metric.WithDescription("Cost of benchmark LLM calls in currency units")); err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}
	if m.runs, err = meter.Int64Counter("agentqa.benchmark.runs",
		metric.WithDescription("Finished benchmark runs"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create run counter: %w", err)
	}
	if m.verifications, err = meter.Int64Counter("agentqa.verification.results",
		metric.WithDescription("Cross-agent verification outcomes"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create verification counter: %w", err)
	}
	return m, nil
}

// ItemCompleted records one benchmark item.
func (m *EngineMetrics) ItemCompleted(ctx context.Context, agentType, model string, result agentqa.ModelResult) {
	attrs := []attribute.KeyValue{
		attribute.String("agent_type", agentType),
		attribute.String("model", model),
	}
	m.items.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", string(result.Status)))...))
	if result.Status != agentqa.StatusSuccess {
		return
	}
	m.grades.Record(ctx, result.Grade, metric.WithAttributes(attrs...))
	m.itemLatency.Record(ctx, float64(result.ResponseTimeMs), metric.WithAttributes(attrs...))
	m.cost.Add(ctx, result.Cost, metric.WithAttributes(attrs...))
}

// RunFinished records the terminal state of a run.
func (m *EngineMetrics) RunFinished(ctx context.Context, agentType string, progress benchmark.Progress) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("mode", progress.Mode),
		attribute.String("state", string(progress.State)),
		attribute.Bool("cancelled", progress.Cancelled),
	))
}

// VerificationCompleted records whether a verification reached consensus.
func (m *EngineMetrics) VerificationCompleted(ctx context.Context, result *agentqa.VerificationResult) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("primary_agent", result.PrimaryAgent),
		attribute.String("verifying_agent", result.VerifyingAgent),
		attribute.Bool("consensus", result.ConsensusReached),
	))
}
