// Package llm provides the LLM backend capability used by agents, graders and judges.
//
// Every provider adapter implements the same small LLM interface: a list of
// messages in, one message out, with usage reported in the response metadata.
// The Complete helper maps the engine's single-shot call shape
// (system prompt, user prompt, model, temperature, max tokens) onto that
// interface and normalizes the result.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// LLM is the minimal interface for calling a language model backend.
//
// Example:
//
//	backend := NewOpenAILLM(OpenAIConfig{APIKey: "sk-..."})
//	messages := []*agentqa.Message{
//	    agentqa.NewMessage("system", "You are a compliance expert."),
//	    agentqa.NewMessage("user", "What licenses does a cultivator need?"),
//	}
//	response, err := backend.Complete(ctx, messages, WithModel("gpt-4o"), WithTemperature(0.2))
type LLM interface {
	// Complete generates a single completion.
	//
	// The response message has role "assistant". Adapters that receive
	// token counts from the provider store them as a Usage value under
	// Metadata["usage"].
	Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error)

	// Model returns the default model identifier used when no WithModel
	// option is given.
	Model() string
}

// CallOptions holds per-call options.
type CallOptions struct {
	Temperature *float64
	MaxTokens   *int
	// Model overrides the adapter's default model for one call.
	Model string
}

// CallOption is a functional option for configuring LLM calls.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature (0.0-2.0).
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = &temperature
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = &maxTokens
	}
}

// WithModel selects the model for this call.
func WithModel(model string) CallOption {
	return func(opts *CallOptions) {
		opts.Model = model
	}
}

// BuildCallOptions creates CallOptions from functional options.
func BuildCallOptions(opts ...CallOption) *CallOptions {
	options := &CallOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ModelFor returns the per-call model if set, otherwise fallback.
func (o *CallOptions) ModelFor(fallback string) string {
	if o.Model != "" {
		return o.Model
	}
	return fallback
}

// Usage is the token usage reported by a backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// UsageFromMessage extracts usage from response metadata. It accepts the
// typed Usage value set by the adapters in this package as well as generic
// maps keyed by prompt_tokens/completion_tokens or input_tokens/output_tokens.
func UsageFromMessage(msg *agentqa.Message) (Usage, bool) {
	if msg == nil || msg.Metadata == nil {
		return Usage{}, false
	}

	switch u := msg.Metadata["usage"].(type) {
	case Usage:
		return u, true
	case *Usage:
		if u != nil {
			return *u, true
		}
	case map[string]interface{}:
		in, okIn := firstInt(u, "input_tokens", "prompt_tokens")
		out, okOut := firstInt(u, "output_tokens", "completion_tokens")
		if okIn || okOut {
			return Usage{InputTokens: in, OutputTokens: out}, true
		}
	}
	return Usage{}, false
}

func firstInt(m map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

// EstimateTokens approximates a token count as ceil(characters / 4).
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

// Request is a single-shot completion request.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Messages builds the message sequence for the request. The system message
// is omitted when SystemPrompt is empty.
func (r Request) Messages() []*agentqa.Message {
	messages := make([]*agentqa.Message, 0, 2)
	if strings.TrimSpace(r.SystemPrompt) != "" {
		messages = append(messages, agentqa.NewMessage("system", r.SystemPrompt))
	}
	return append(messages, agentqa.NewMessage("user", r.UserPrompt))
}

// Completion is the normalized result of Complete.
type Completion struct {
	Text  string
	Model string
	// Usage is nil when the backend reported no token counts.
	Usage *Usage
	// Confidence is set when the backend reported its own confidence.
	Confidence *float64
	Sources    []string
	Metadata   map[string]interface{}
}

// Complete runs req against backend and normalizes the response.
func Complete(ctx context.Context, backend LLM, req Request) (*Completion, error) {
	opts := []CallOption{WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, WithModel(req.Model))
	}

	response, err := backend.Complete(ctx, req.Messages(), opts...)
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, fmt.Errorf("backend returned no response")
	}

	completion := &Completion{
		Text:     response.Content,
		Model:    req.Model,
		Metadata: response.Metadata,
	}
	if completion.Model == "" {
		completion.Model = backend.Model()
	}
	if usage, ok := UsageFromMessage(response); ok {
		completion.Usage = &usage
	}
	if response.Metadata != nil {
		if c, ok := response.Metadata["confidence"].(float64); ok {
			completion.Confidence = &c
		}
		switch s := response.Metadata["sources"].(type) {
		case []string:
			completion.Sources = s
		case []interface{}:
			for _, v := range s {
				if str, ok := v.(string); ok {
					completion.Sources = append(completion.Sources, str)
				}
			}
		}
	}
	return completion, nil
}
