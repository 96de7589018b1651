package compose

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planforge/pkg/agent/llmerrors"
	"planforge/pkg/gateway"
	"planforge/pkg/plan"
)

func fullPlanJSON(t *testing.T, name string) string {
	t.Helper()
	sections := map[string]any{}
	for _, s := range plan.Sections() {
		sections[string(s)] = map[string]any{"summary": string(s) + " plan", "items": []string{string(s) + " step"}}
	}
	data, err := json.Marshal(map[string]any{
		"project_name": name,
		"summary":      "A cozy farming sim",
		"goals":        []string{"relaxing loop"},
		"sections":     sections,
	})
	require.NoError(t, err)
	return string(data)
}

func composed(t *testing.T) plan.Plan {
	t.Helper()
	script := gateway.NewScript(gateway.Reply(fullPlanJSON(t, "Cozy Farm")))
	p, _, err := New(script).Compose(context.Background(), "pitch", nil, nil)
	require.NoError(t, err)
	return p
}

func TestCompose(t *testing.T) {
	script := gateway.NewScript(gateway.Reply(fullPlanJSON(t, "Cozy Farm")))
	c := New(script)

	p, ack, err := c.Compose(context.Background(), "a cozy farming sim", []string{"Platforms?"}, []string{" mobile "})
	require.NoError(t, err)

	assert.Equal(t, "Cozy Farm", p.ProjectName)
	for _, s := range plan.Sections() {
		assert.False(t, p.Sections[s].IsEmpty(), "section %s", s)
	}
	assert.Equal(t, `Drafted "Cozy Farm": A cozy farming sim`, ack)

	prompts := script.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, OperationCompose, prompts[0].Operation)
	ctxMap, ok := prompts[0].Context.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []QA{{Question: "Platforms?", Answer: "mobile"}}, ctxMap["clarifications"])
	assert.Contains(t, prompts[0].System, `"ci_cd"`)
}

func TestComposeErrors(t *testing.T) {
	t.Run("answer mismatch skips gateway", func(t *testing.T) {
		script := gateway.NewScript()
		_, _, err := New(script).Compose(context.Background(), "pitch", []string{"q"}, nil)
		assert.ErrorIs(t, err, ErrAnswerMismatch)
		assert.Equal(t, 0, script.Calls())
	})

	t.Run("malformed reply", func(t *testing.T) {
		script := gateway.NewScript(gateway.Reply("I cannot help with that"))
		_, _, err := New(script).Compose(context.Background(), "pitch", nil, nil)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("missing sections", func(t *testing.T) {
		script := gateway.NewScript(gateway.Reply(`{"project_name": "x", "sections": {"architecture": "monolith"}}`))
		_, _, err := New(script).Compose(context.Background(), "pitch", nil, nil)
		assert.ErrorIs(t, err, ErrIncompletePlan)
		assert.ErrorIs(t, err, plan.ErrMissingSection)
	})

	t.Run("gateway error unchanged", func(t *testing.T) {
		gwErr := llmerrors.NewError(llmerrors.ErrorTypeTransient, "timeout")
		script := gateway.NewScript(gateway.Fail(gwErr))
		_, _, err := New(script).Compose(context.Background(), "pitch", nil, nil)
		assert.Same(t, gwErr, err)
	})
}

func TestReviseMergesByKey(t *testing.T) {
	current := composed(t)
	before := current.Clone()

	reply := `{"acknowledgement": "Eased the early game", "plan": {"sections": {
		"delivery": {"summary": "Gentler difficulty curve", "items": ["tune early seasons"]},
		"leaderboard": {"summary": "not a section"}
	}}}`
	script := gateway.NewScript(gateway.Reply(reply))

	updated, ack, err := New(script).Revise(context.Background(), current, []string{" lower difficulty curve ", ""})
	require.NoError(t, err)

	assert.Equal(t, "Gentler difficulty curve", updated.Sections[plan.Delivery].Summary)
	assert.Len(t, updated.Sections, len(plan.Sections()))
	assert.Equal(t, "Eased the early game. Applied: lower difficulty curve. Updated sections: delivery.", ack)
	assert.Equal(t, before, current, "input plan must not be mutated")

	prompts := script.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "Revision notes:\n- lower difficulty curve", prompts[0].User)
	assert.Equal(t, current, prompts[0].Context)
}

func TestReviseIsIdempotentSafe(t *testing.T) {
	reply := `{"acknowledgement": "Added a leaderboard", "plan": {"sections": {
		"architecture": {"summary": "Adds a leaderboard service", "items": ["leaderboard api"]},
		"operations": {"items": ["monitor leaderboard"]}
	}}}`
	script := gateway.NewScript(gateway.Reply(reply), gateway.Reply(reply))
	c := New(script)
	notes := []string{"add a leaderboard"}

	first, _, err := c.Revise(context.Background(), composed(t), notes)
	require.NoError(t, err)
	second, ack, err := c.Revise(context.Background(), first, notes)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, keys(first), keys(second))
	assert.Contains(t, ack, "No sections changed")
	assert.Contains(t, ack, "add a leaderboard")
}

func TestReviseRejectsEmptyNotesWithoutGateway(t *testing.T) {
	for _, notes := range [][]string{nil, {}, {" ", "\n"}} {
		script := gateway.NewScript()
		_, _, err := New(script).Revise(context.Background(), composed(t), notes)
		assert.ErrorIs(t, err, ErrNoNotes)
		assert.Equal(t, 0, script.Calls())
	}
}

func TestReviseMalformedReply(t *testing.T) {
	script := gateway.NewScript(gateway.Reply(`{"plan": [1, 2]}`))
	_, _, err := New(script).Revise(context.Background(), composed(t), []string{"x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func keys(p plan.Plan) []plan.SectionName {
	var out []plan.SectionName
	for _, s := range plan.Sections() {
		if _, ok := p.Sections[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
