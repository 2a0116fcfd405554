package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// FlowRequest is sent to an external flow.
type FlowRequest struct {
	AgentType    string `json:"agent_type"`
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model"`
}

// ExternalFlow runs a prompt through an externally hosted pipeline.
type ExternalFlow interface {
	Run(ctx context.Context, req FlowRequest) (*llm.Completion, error)
}

type flowResponse struct {
	Text       string     `json:"text"`
	Sources    []string   `json:"sources"`
	Confidence *float64   `json:"confidence"`
	Usage      *llm.Usage `json:"usage"`
}

// HTTPFlow posts FlowRequest as JSON to an endpoint and expects
// {text, sources, confidence, usage} back.
type HTTPFlow struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPFlow creates an HTTP external flow. apiKey is sent as a bearer
// token when set.
func NewHTTPFlow(url, apiKey string) *HTTPFlow {
	return &HTTPFlow{url: url, apiKey: apiKey, httpClient: &http.Client{}}
}

// Run calls the flow endpoint.
func (f *HTTPFlow) Run(ctx context.Context, req FlowRequest) (*llm.Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	if f.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("external flow error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("external flow error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var parsed flowResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode flow response: %w", err)
	}

	return &llm.Completion{
		Text:       parsed.Text,
		Model:      req.Model,
		Usage:      parsed.Usage,
		Confidence: parsed.Confidence,
		Sources:    parsed.Sources,
		Metadata:   map[string]interface{}{"external_flow": true},
	}, nil
}
