// Package observability wires logging, tracing and metrics for the engine.
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter for collectors and
// a stdout exporter for local debugging. Metrics are OpenTelemetry
// instruments read by a Prometheus exporter. LLM calls are traced and
// measured by the TracingLLM and MetricsLLM decorators; benchmark runs are
// measured through BenchmarkMetrics, which implements the runner's
// observer hook.
package observability

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

const instrumentationName = "github.com/F8ai/formul8-platform-sub006"

// TracingConfig configures InitTracing.
type TracingConfig struct {
	ServiceName string
	// OTLPEndpoint is a collector host:port. Empty disables OTLP export.
	OTLPEndpoint string
	// Insecure disables TLS towards the collector.
	Insecure bool
	// Console pretty-prints spans to stdout.
	Console bool
	// SampleRatio is the fraction of root spans recorded (default: 1).
	SampleRatio float64
}

// InitTracing installs a global tracer provider and the W3C trace context
// propagator. The returned provider must be shut down on exit.
func InitTracing(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}

	if cfg.OTLPEndpoint != "" {
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		} else {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithTLSCredentials(
				credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	if cfg.Console {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// Tracer returns a tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// InjectHeaders writes the active trace context into outbound HTTP headers.
func InjectHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// ExtractHeaders returns ctx carrying the trace context found in header.
func ExtractHeaders(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

// TracingLLM wraps a backend so each completion runs in a client span.
type TracingLLM struct {
	backend llm.LLM
	tracer  trace.Tracer
}

var _ llm.LLM = (*TracingLLM)(nil)

// NewTracingLLM creates a tracing decorator.
func NewTracingLLM(backend llm.LLM) *TracingLLM {
	return &TracingLLM{backend: backend, tracer: Tracer()}
}

// Model returns the wrapped backend's default model.
func (t *TracingLLM) Model() string {
	return t.backend.Model()
}

// Complete calls the wrapped backend inside an "llm.complete" span.
func (t *TracingLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	options := llm.BuildCallOptions(opts...)
	ctx, span := t.tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("llm.model", options.ModelFor(t.backend.Model())),
		attribute.Int("llm.messages", len(messages)),
	}
	if options.Temperature != nil {
		attrs = append(attrs, attribute.Float64("llm.temperature", *options.Temperature))
	}
	if options.MaxTokens != nil {
		attrs = append(attrs, attribute.Int("llm.max_tokens", *options.MaxTokens))
	}
	span.SetAttributes(attrs...)

	response, err := t.backend.Complete(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if usage, ok := llm.UsageFromMessage(response); ok {
		span.SetAttributes(
			attribute.Int("llm.usage.input_tokens", usage.InputTokens),
			attribute.Int("llm.usage.output_tokens", usage.OutputTokens),
		)
	}
	span.SetStatus(codes.Ok, "")
	return response, nil
}
