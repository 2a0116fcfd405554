package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/goccy/go-json"
)

// AnthropicConfig configures the Anthropic Messages API adapter.
type AnthropicConfig struct {
	APIKey string
	// BaseURL defaults to https://api.anthropic.com/v1.
	BaseURL string
	// Model defaults to claude-3-5-haiku-20241022.
	Model string
	// HTTPClient is optional; deadlines come from the call context.
	HTTPClient *http.Client
}

// AnthropicLLM is an adapter for Anthropic's Claude models.
//
// System messages are lifted into the request's top-level system field;
// all other roles are sent as user or assistant turns.
type AnthropicLLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicLLM creates a new Anthropic adapter.
func NewAnthropicLLM(cfg AnthropicConfig) *AnthropicLLM {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-20241022"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &AnthropicLLM{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

// Model returns the default model identifier.
func (a *AnthropicLLM) Model() string {
	return a.model
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete generates a completion from Claude.
func (a *AnthropicLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error) {
	options := BuildCallOptions(opts...)

	converted, system := a.convertMessages(messages)
	req := anthropicRequest{
		Model:       options.ModelFor(a.model),
		Messages:    converted,
		MaxTokens:   4096,
		Temperature: options.Temperature,
		System:      system,
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic api error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" || block.Type == "" {
			text.WriteString(block.Text)
		}
	}

	response := agentqa.NewMessage("assistant", text.String())
	response.Metadata["model"] = parsed.Model
	response.Metadata["usage"] = Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	response.Metadata["stop_reason"] = parsed.StopReason
	response.Metadata["id"] = parsed.ID

	return response, nil
}

// convertMessages splits out the system prompt. Multiple system messages
// are joined with blank lines.
func (a *AnthropicLLM) convertMessages(messages []*agentqa.Message) ([]anthropicMessage, string) {
	var converted []anthropicMessage
	var system []string

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		role := "assistant"
		if msg.Role == "user" {
			role = "user"
		}
		converted = append(converted, anthropicMessage{Role: role, Content: msg.Content})
	}

	return converted, strings.Join(system, "\n\n")
}
