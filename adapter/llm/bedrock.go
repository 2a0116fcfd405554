package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockConfig holds configuration for creating a Bedrock adapter.
type BedrockConfig struct {
	// ModelID is the default Bedrock model identifier.
	ModelID string

	// Region is the AWS region (default: us-east-1).
	Region string

	// Profile is the shared config profile name (optional).
	Profile string

	// AccessKeyID, SecretAccessKey and SessionToken set static credentials
	// (optional; the default credential chain is used otherwise).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// EndpointURL is a custom endpoint for VPC endpoints (optional).
	EndpointURL string
}

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockLLM is an adapter for foundation models served by Amazon Bedrock
// through the Converse API.
//
// Example:
//
//	backend, err := NewBedrockLLM(ctx, BedrockConfig{
//	    ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
//	    Region:  "us-west-2",
//	})
type BedrockLLM struct {
	client  converseAPI
	modelID string
}

// NewBedrockLLM loads AWS configuration and creates a Bedrock adapter.
func NewBedrockLLM(ctx context.Context, cfg BedrockConfig) (*BedrockLLM, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	configOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &BedrockLLM{
		client:  bedrockruntime.NewFromConfig(awsConfig, clientOpts...),
		modelID: cfg.ModelID,
	}, nil
}

// Model returns the default model identifier.
func (b *BedrockLLM) Model() string {
	return b.modelID
}

// Complete generates a completion with the Converse API.
func (b *BedrockLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...CallOption) (*agentqa.Message, error) {
	options := BuildCallOptions(opts...)
	modelID := options.ModelFor(b.modelID)

	converted, system := b.convertMessages(messages)

	inference := &types.InferenceConfiguration{MaxTokens: aws.Int32(4096)}
	if options.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*options.Temperature))
	}
	if options.MaxTokens != nil {
		inference.MaxTokens = aws.Int32(int32(*options.MaxTokens))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        converted,
		InferenceConfig: inference,
	}
	if len(system) > 0 {
		input.System = system
	}

	output, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	var text strings.Builder
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(textBlock.Value)
			}
		}
	}

	response := agentqa.NewMessage("assistant", text.String())
	response.Metadata["model"] = modelID
	if output.Usage != nil {
		response.Metadata["usage"] = Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}
	if output.StopReason != "" {
		response.Metadata["stop_reason"] = string(output.StopReason)
	}

	return response, nil
}

// convertMessages converts messages to Converse format, returning system
// prompts separately.
func (b *BedrockLLM) convertMessages(messages []*agentqa.Message) ([]types.Message, []types.SystemContentBlock) {
	var converted []types.Message
	var system []types.SystemContentBlock

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}

		role := types.ConversationRoleAssistant
		if msg.Role == "user" {
			role = types.ConversationRoleUser
		}
		converted = append(converted, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
		})
	}

	return converted, system
}
