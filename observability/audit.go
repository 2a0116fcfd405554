package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// AuditEventType names an operator-visible change or escalation.
type AuditEventType string

const (
	ModeConfigChanged  AuditEventType = "mode_config_changed"
	BenchmarkStarted   AuditEventType = "benchmark_started"
	BenchmarkCancelled AuditEventType = "benchmark_cancelled"
	HumanReview        AuditEventType = "human_review_required"
	QueryRejected      AuditEventType = "query_rejected"
)

// AuditEvent is one audit record.
type AuditEvent struct {
	EventType AuditEventType         `json:"event_type"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	AgentType string                 `json:"agent_type,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
}

// NewAuditEvent creates an event stamped with the trace context of ctx.
func NewAuditEvent(ctx context.Context, eventType AuditEventType, message string) *AuditEvent {
	event := &AuditEvent{
		EventType: eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		event.SpanID = sc.SpanID().String()
	}
	return event
}

// AuditSink writes audit events.
type AuditSink interface {
	Write(event *AuditEvent) error
}

// JSONAuditSink writes one JSON object per line.
type JSONAuditSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONAuditSink creates a sink writing to w.
func NewJSONAuditSink(w io.Writer) *JSONAuditSink {
	return &JSONAuditSink{w: w}
}

// OpenAuditFile opens path for appending and returns a JSON sink over it
// along with the file to close.
func OpenAuditFile(path string) (*JSONAuditSink, io.Closer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return NewJSONAuditSink(file), file, nil
}

// Write encodes event as a single line.
func (s *JSONAuditSink) Write(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(s.w, string(data))
	return err
}

// ConsoleAuditSink writes a human readable line, colored by event type.
type ConsoleAuditSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleAuditSink creates a sink writing to w.
func NewConsoleAuditSink(w io.Writer) *ConsoleAuditSink {
	return &ConsoleAuditSink{w: w}
}

var auditColors = map[AuditEventType]*color.Color{
	ModeConfigChanged:  color.New(color.FgCyan),
	BenchmarkStarted:   color.New(color.FgGreen),
	BenchmarkCancelled: color.New(color.FgYellow),
	HumanReview:        color.New(color.FgRed, color.Bold),
	QueryRejected:      color.New(color.FgMagenta),
}

// Write formats event on one line.
func (s *ConsoleAuditSink) Write(event *AuditEvent) error {
	kind := string(event.EventType)
	if c, ok := auditColors[event.EventType]; ok {
		kind = c.Sprint(kind)
	}

	parts := []string{event.Timestamp.Format(time.RFC3339), "[" + kind + "]"}
	if event.AgentType != "" {
		parts = append(parts, "agent="+event.AgentType)
	}
	if event.Resource != "" {
		parts = append(parts, "resource="+event.Resource)
	}
	parts = append(parts, event.Message)
	if event.TraceID != "" {
		parts = append(parts, "trace_id="+event.TraceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, strings.Join(parts, " "))
	return err
}

// AuditLogger fans events out to its sinks. A nil *AuditLogger discards
// everything.
type AuditLogger struct {
	sinks  []AuditSink
	logger *slog.Logger
}

// NewAuditLogger creates an audit logger over sinks.
func NewAuditLogger(sinks ...AuditSink) *AuditLogger {
	return &AuditLogger{
		sinks:  sinks,
		logger: slog.Default().With("component", "audit"),
	}
}

// Log writes event to every sink. Sink failures are logged, not returned.
func (l *AuditLogger) Log(event *AuditEvent) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		if err := sink.Write(event); err != nil {
			l.logger.Warn("audit sink failed", "event_type", event.EventType, "error", err)
		}
	}
}

// ModeConfigChange records an update to an agent's mode configuration.
func (l *AuditLogger) ModeConfigChange(ctx context.Context, agentType string, before *agentqa.ModeConfig, after agentqa.ModeConfig) {
	if l == nil {
		return
	}
	event := NewAuditEvent(ctx, ModeConfigChanged, fmt.Sprintf("mode %s reconfigured", after.Mode))
	event.AgentType = agentType
	event.Resource = after.Mode.String()
	if before != nil {
		event.Metadata["before"] = *before
	}
	event.Metadata["after"] = after
	l.Log(event)
}

// BenchmarkStart records a new benchmark run.
func (l *AuditLogger) BenchmarkStart(ctx context.Context, runID, agentType, mode string, models []string) {
	if l == nil {
		return
	}
	event := NewAuditEvent(ctx, BenchmarkStarted, fmt.Sprintf("benchmark started in %s mode", mode))
	event.AgentType = agentType
	event.Resource = runID
	event.Metadata["models"] = models
	l.Log(event)
}

// BenchmarkCancel records an operator cancellation.
func (l *AuditLogger) BenchmarkCancel(ctx context.Context, runID string) {
	if l == nil {
		return
	}
	event := NewAuditEvent(ctx, BenchmarkCancelled, "benchmark cancellation requested")
	event.Resource = runID
	l.Log(event)
}

// Escalation records an answer that needs human review after verification.
func (l *AuditLogger) Escalation(ctx context.Context, result *agentqa.VerificationResult) {
	if l == nil || !result.RequiresHumanReview() {
		return
	}
	event := NewAuditEvent(ctx, HumanReview, result.Recommendation)
	event.AgentType = result.PrimaryAgent
	event.Resource = result.VerifyingAgent
	event.Metadata["final_confidence"] = result.FinalConfidence
	event.Metadata["discrepancies"] = result.Discrepancies
	l.Log(event)
}

// QueryRejected records a question refused by the safety screen.
func (l *AuditLogger) QueryRejected(ctx context.Context, agentType string, reason error) {
	if l == nil {
		return
	}
	event := NewAuditEvent(ctx, QueryRejected, reason.Error())
	event.AgentType = agentType
	l.Log(event)
}
