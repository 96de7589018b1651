// Package anthropic provides the Anthropic Claude client implementation for the LLM interface.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"planforge/pkg/agent/llm"
	"planforge/pkg/agent/llmerrors"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw Claude client; middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := buildMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, "Anthropic")
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text.WriteString(resp.Content[i].AsText().Text)
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		StopReason: string(resp.StopReason),
	}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// buildMessages lifts system content into the system prompt and merges
// consecutive same-role turns, since the Messages API requires alternation
// starting with a user turn.
func buildMessages(in []llm.CompletionMessage) (string, []anthropic.MessageParam, error) {
	system, rest := llm.SplitSystem(in)
	if len(rest) == 0 {
		return "", nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no user or assistant messages")
	}
	if rest[0].Role != llm.RoleUser {
		return "", nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "first message must be from the user")
	}

	merged := make([]llm.CompletionMessage, 0, len(rest))
	for i := range rest {
		if n := len(merged); n > 0 && merged[n-1].Role == rest[i].Role {
			merged[n-1].Content += "\n\n" + rest[i].Content
			continue
		}
		merged = append(merged, rest[i])
	}

	messages := make([]anthropic.MessageParam, 0, len(merged))
	for i := range merged {
		block := anthropic.NewTextBlock(merged[i].Content)
		if merged[i].Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return system, messages, nil
}
