// Package openaiofficial provides the OpenAI client implementation using the official Responses API.
package openaiofficial

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"planforge/pkg/agent/llm"
	"planforge/pkg/agent/llmerrors"
)

// Client wraps the official OpenAI Go client to implement llm.LLMClient interface.
type Client struct {
	client openai.Client
	model  string
}

// NewClientWithModel creates a raw OpenAI client; middleware is applied by the factory.
func NewClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := buildInput(in.Messages)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no user input")
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, "OpenAI")
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		StopReason: string(resp.Status),
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// buildInput flattens the conversation for the Responses API: system content
// becomes instructions and the remaining turns a single input string.
func buildInput(messages []llm.CompletionMessage) (instructions, input string) {
	system, rest := llm.SplitSystem(messages)
	var b strings.Builder
	for i := range rest {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if rest[i].Role == llm.RoleAssistant {
			b.WriteString("Assistant: ")
		}
		b.WriteString(rest[i].Content)
	}
	return system, b.String()
}
