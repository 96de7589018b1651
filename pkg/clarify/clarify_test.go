package clarify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planforge/pkg/agent/llmerrors"
	"planforge/pkg/config"
	"planforge/pkg/gateway"
)

func newClarifier(gw gateway.Gateway) *Clarifier {
	return New(gw, config.ClarifyConfig{MaxQuestions: 3, MaxPitchTokens: 50})
}

func TestAsk(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "three questions",
			reply: `{"questions": ["Which platforms?", "Monetization?", "Art style?"]}`,
			want:  []string{"Which platforms?", "Monetization?", "Art style?"},
		},
		{
			name:  "zero questions is valid",
			reply: `{"questions": []}`,
			want:  []string{},
		},
		{
			name:  "fenced json with blanks and duplicates",
			reply: "Sure!\n```json\n{\"questions\": [\" Which platforms? \", \"\", \"which platforms?\"]}\n```",
			want:  []string{"Which platforms?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := gateway.NewScript(gateway.Reply(tt.reply))
			got, err := newClarifier(script).Ask(context.Background(), "a cozy farming sim with seasonal events")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			prompts := script.Prompts()
			require.Len(t, prompts, 1)
			assert.Equal(t, Operation, prompts[0].Operation)
			assert.Contains(t, prompts[0].User, "cozy farming sim")
			assert.Contains(t, prompts[0].System, "at most 3")
		})
	}
}

func TestAskRejectsBadPitchWithoutCallingGateway(t *testing.T) {
	script := gateway.NewScript()
	c := newClarifier(script)

	_, err := c.Ask(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyPitch)

	_, err = c.Ask(context.Background(), strings.Repeat("farming simulation ", 100))
	assert.ErrorIs(t, err, ErrPitchTooLong)

	assert.Equal(t, 0, script.Calls())
}

func TestAskRejectsTooManyQuestions(t *testing.T) {
	script := gateway.NewScript(gateway.Reply(`{"questions": ["a", "b", "c", "d"]}`))
	_, err := newClarifier(script).Ask(context.Background(), "pitch")
	assert.ErrorIs(t, err, ErrTooManyQuestions)
}

func TestAskMalformedResponse(t *testing.T) {
	for _, reply := range []string{"no json here", `{"questions": "not a list"}`} {
		script := gateway.NewScript(gateway.Reply(reply))
		_, err := newClarifier(script).Ask(context.Background(), "pitch")
		assert.ErrorIs(t, err, ErrMalformedResponse, reply)
	}
}

func TestAskPropagatesGatewayErrorUnchanged(t *testing.T) {
	gwErr := llmerrors.NewError(llmerrors.ErrorTypeTransient, "backend down")
	script := gateway.NewScript(gateway.Fail(gwErr))

	_, err := newClarifier(script).Ask(context.Background(), "pitch")
	require.Error(t, err)
	assert.Same(t, gwErr, err)

	var llmErr *llmerrors.Error
	assert.True(t, errors.As(err, &llmErr))
	assert.Equal(t, 1, script.Calls())
}

func TestNewClampsMaxQuestions(t *testing.T) {
	assert.Equal(t, 3, New(gateway.NewScript(), config.ClarifyConfig{MaxQuestions: 10}).MaxQuestions())
	assert.Equal(t, 0, New(gateway.NewScript(), config.ClarifyConfig{MaxQuestions: -1}).MaxQuestions())
}

func TestZeroBudgetRejectsAnyQuestion(t *testing.T) {
	script := gateway.NewScript(gateway.Reply(`{"questions": ["a"]}`))
	c := New(script, config.ClarifyConfig{MaxQuestions: 0})
	_, err := c.Ask(context.Background(), "pitch")
	assert.ErrorIs(t, err, ErrTooManyQuestions)
}
