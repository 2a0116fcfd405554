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

// OllamaLLM is an adapter for models served by a local Ollama instance.
//
// Example:
//
//	backend := NewOllamaLLM("llama3.1", "http://localhost:11434")
//	response, err := backend.Complete(ctx, messages, WithTemperature(0.3))
type OllamaLLM struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// NewOllamaLLM creates a new Ollama adapter. An empty baseURL means
// http://localhost:11434.
func NewOllamaLLM(model, baseURL string) *OllamaLLM {
	if model == "" {
		model = "llama3.1"
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaLLM{
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Model returns the default model identifier.
func (o *OllamaLLM) Model() string {
	return o.model
}

// Complete generates a completion with the /api/chat endpoint.
func (o *OllamaLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error) {
	options := BuildCallOptions(opts...)

	req := ollamaRequest{
		Model:    options.ModelFor(o.model),
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, msg := range messages {
		role := msg.Role
		if role != "system" && role != "user" {
			role = "assistant"
		}
		req.Messages = append(req.Messages, ollamaMessage{Role: role, Content: msg.Content})
	}
	if options.Temperature != nil || options.MaxTokens != nil {
		req.Options = &ollamaOptions{Temperature: options.Temperature}
		if options.MaxTokens != nil {
			req.Options.NumPredict = *options.MaxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	response := agentqa.NewMessage("assistant", parsed.Message.Content)
	response.Metadata["model"] = parsed.Model
	if parsed.PromptEvalCount > 0 || parsed.EvalCount > 0 {
		response.Metadata["usage"] = Usage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
		}
	}
	response.Metadata["total_duration_ns"] = parsed.TotalDuration

	return response, nil
}
