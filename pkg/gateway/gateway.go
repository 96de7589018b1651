// Package gateway exposes the model as a single text-generation capability.
// Planning components depend on Gateway, never on a provider SDK.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"planforge/pkg/agent/llm"
	"planforge/pkg/agent/llmerrors"
	"planforge/pkg/logx"
)

// Prompt is one generation request.
type Prompt struct {
	// Operation names the planning step for logs and metrics.
	Operation string
	System    string
	User      string
	// Context is optional structured input, rendered as indented JSON after User.
	Context any
}

// Gateway generates text for a prompt. Failures are returned as-is; a
// Gateway never retries on the caller's behalf.
type Gateway interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Func adapts a function to Gateway.
type Func func(ctx context.Context, p Prompt) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// Options tunes the requests an LLMGateway issues.
type Options struct {
	MaxTokens   int
	Temperature float64
	// JSON asks backends that support it for a JSON object response.
	JSON bool
}

// LLMGateway implements Gateway over an llm.LLMClient.
type LLMGateway struct {
	client llm.LLMClient
	opts   Options
	logger *logx.Logger
}

// New wraps client. Zero options fall back to the llm package defaults.
func New(client llm.LLMClient, opts Options) *LLMGateway {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = llm.DefaultMaxTokens
	}
	return &LLMGateway{client: client, opts: opts, logger: logx.NewLogger("gateway")}
}

// Generate renders p into messages and returns the model's text. An empty
// reply is an empty_response error.
func (g *LLMGateway) Generate(ctx context.Context, p Prompt) (string, error) {
	user, err := renderUser(p)
	if err != nil {
		return "", llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "cannot render prompt context")
	}

	messages := make([]llm.CompletionMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, llm.NewSystemMessage(p.System))
	}
	messages = append(messages, llm.NewUserMessage(user))

	req := llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: float32(g.opts.Temperature),
		JSON:        g.opts.JSON,
	}

	if p.Operation != "" {
		ctx = llm.WithOperation(ctx, p.Operation)
	}
	logx.Debug(ctx, "gateway", "%s prompt: %s", p.Operation, llmerrors.SanitizePrompt(user, 400))

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		g.logger.Scoped(ctx).Warn("%s generation failed on %s: %v", p.Operation, g.client.GetModelName(), err)
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			fmt.Sprintf("%s returned no content (stop reason %q)", g.client.GetModelName(), resp.StopReason))
	}
	return text, nil
}

func renderUser(p Prompt) (string, error) {
	if p.Context == nil {
		return p.User, nil
	}
	data, err := json.MarshalIndent(p.Context, "", "  ")
	if err != nil {
		return "", err
	}
	if p.User == "" {
		return string(data), nil
	}
	return p.User + "\n\nContext:\n" + string(data), nil
}

// ErrNoJSON reports a reply that carries no JSON object.
var ErrNoJSON = errors.New("no JSON object in model response")

// ExtractJSON returns the outermost {...} span of text. Models often wrap
// JSON in prose or code fences; this trims both.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// DecodeJSON extracts the JSON object from text and decodes it into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}
