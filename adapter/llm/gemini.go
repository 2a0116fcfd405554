package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiLLM is an adapter for Google's Gemini models.
//
// System messages become the model's system instruction. The remaining
// turns are replayed as chat history with the last one sent as the prompt.
//
// Example:
//
//	backend, err := NewGeminiLLM(ctx, "your-api-key", "gemini-1.5-flash")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
type GeminiLLM struct {
	client *genai.Client
	model  string
}

// NewGeminiLLM creates a new Gemini adapter.
func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiLLM{
		client: client,
		model:  model,
	}, nil
}

// Model returns the default model identifier.
func (g *GeminiLLM) Model() string {
	return g.model
}

// Complete generates a completion from Gemini.
func (g *GeminiLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error) {
	options := BuildCallOptions(opts...)
	modelName := options.ModelFor(g.model)

	model := g.client.GenerativeModel(modelName)
	if options.Temperature != nil {
		model.SetTemperature(float32(*options.Temperature))
	}
	if options.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*options.MaxTokens))
	}

	system, turns := splitSystem(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("gemini: no user message to send")
	}

	session := model.StartChat()
	for _, msg := range turns[:len(turns)-1] {
		session.History = append(session.History, &genai.Content{
			Role:  g.mapRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	response := agentqa.NewMessage("assistant", g.extractContent(resp))
	response.Metadata["model"] = modelName
	if resp.UsageMetadata != nil {
		response.Metadata["usage"] = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) > 0 {
		response.Metadata["finish_reason"] = resp.Candidates[0].FinishReason.String()
	}

	return response, nil
}

func (g *GeminiLLM) mapRole(role string) string {
	if role == "user" {
		return "user"
	}
	return "model"
}

func (g *GeminiLLM) extractContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}

	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content.WriteString(string(txt))
		}
	}
	return content.String()
}

// Close closes the Gemini client.
func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// splitSystem separates system messages (joined with blank lines) from the
// conversational turns.
func splitSystem(messages []*agentqa.Message) (string, []*agentqa.Message) {
	var system []string
	turns := make([]*agentqa.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	return strings.Join(system, "\n\n"), turns
}
