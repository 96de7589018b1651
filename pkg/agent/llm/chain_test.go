package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClient struct {
	content string
}

func (s staticClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: s.content}, nil
}

func (s staticClient) GetModelName() string { return "static" }

func recording(name string, calls *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*calls = append(*calls, name)
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}

func TestChainOrder(t *testing.T) {
	var calls []string
	client := Chain(staticClient{content: "ok"}, recording("outer", &calls), recording("inner", &calls))

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"outer", "inner"}, calls)
	assert.Equal(t, "static", client.GetModelName())
}

func TestChainNoMiddleware(t *testing.T) {
	base := staticClient{content: "plain"}
	assert.Equal(t, base, Chain(base))
}

func TestCompletionRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CompletionRequest
		wantErr bool
	}{
		{"defaults", NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}), false},
		{"no messages", NewCompletionRequest(nil), true},
		{"zero tokens", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("x")}}, true},
		{"hot temperature", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("x")}, MaxTokens: 1, Temperature: 2.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]CompletionMessage{
		NewSystemMessage("be terse"),
		NewUserMessage("pitch"),
		NewSystemMessage("json only"),
	})
	assert.Equal(t, "be terse\n\njson only", system)
	require.Len(t, rest, 1)
	assert.Equal(t, RoleUser, rest[0].Role)
}
