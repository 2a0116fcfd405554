package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI or OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points the client at an OpenAI-compatible proxy such as
	// LiteLLM or vLLM. Empty means the public OpenAI API.
	BaseURL string
	// Model is the default model (default: gpt-4o-mini).
	Model string
}

// OpenAILLM is an adapter for OpenAI chat models.
//
// Example:
//
//	backend := NewOpenAILLM(OpenAIConfig{APIKey: "sk-...", Model: "gpt-4o"})
//	response, err := backend.Complete(ctx, messages, WithTemperature(0.2))
//
// Routing through a LiteLLM proxy:
//
//	backend := NewOpenAILLM(OpenAIConfig{
//	    APIKey:  "sk-litellm",
//	    BaseURL: "http://localhost:4000/v1",
//	    Model:   "llama-3.1-70b",
//	})
type OpenAILLM struct {
	client *openai.Client
	model  string
}

// NewOpenAILLM creates a new OpenAI adapter.
func NewOpenAILLM(cfg OpenAIConfig) *OpenAILLM {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Model returns the default model identifier.
func (o *OpenAILLM) Model() string {
	return o.model
}

// Complete generates a completion with the chat completions API.
//
// The response metadata carries model, usage, finish_reason and id.
func (o *OpenAILLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error) {
	options := BuildCallOptions(opts...)

	req := openai.ChatCompletionRequest{
		Model:    options.ModelFor(o.model),
		Messages: o.convertMessages(messages),
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	response := agentqa.NewMessage("assistant", resp.Choices[0].Message.Content)
	response.Metadata["model"] = resp.Model
	response.Metadata["usage"] = Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	response.Metadata["finish_reason"] = string(resp.Choices[0].FinishReason)
	response.Metadata["id"] = resp.ID

	return response, nil
}

// convertMessages maps roles onto OpenAI's system/user/assistant set.
func (o *OpenAILLM) convertMessages(messages []*agentqa.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleAssistant
		switch msg.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "user":
			role = openai.ChatMessageRoleUser
		}
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return converted
}
