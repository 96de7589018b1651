// Package compose drafts project plans from a clarified pitch and applies
// revision notes to existing plans.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planforge/pkg/gateway"
	"planforge/pkg/logx"
	"planforge/pkg/plan"
	"planforge/pkg/templates"
)

// Operation labels for gateway calls.
const (
	OperationCompose = "compose"
	OperationRevise  = "revise"
)

// Prompt limits passed to the model.
const (
	maxItems      = 12
	maxItemLength = 800
)

// Input errors, raised before any gateway call.
var (
	ErrNoNotes        = errors.New("no revision notes")
	ErrAnswerMismatch = errors.New("answer count does not match question count")
)

// Response errors.
var (
	ErrMalformedResponse = errors.New("malformed plan response")
	ErrIncompletePlan    = errors.New("model produced an incomplete plan")
)

// QA is one clarification question with its answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Composer builds and revises plans through the gateway. It holds no
// per-plan state; both operations are functions of their arguments.
type Composer struct {
	gateway  gateway.Gateway
	renderer *templates.Renderer
	logger   *logx.Logger
}

// New creates a Composer.
func New(gw gateway.Gateway) *Composer {
	return &Composer{
		gateway:  gw,
		renderer: templates.MustNewRenderer(),
		logger:   logx.NewLogger("compose"),
	}
}

// Compose drafts the initial plan and a one-line acknowledgement.
func (c *Composer) Compose(ctx context.Context, pitch string, questions, answers []string) (plan.Plan, string, error) {
	if len(questions) != len(answers) {
		return plan.Plan{}, "", fmt.Errorf("%w: %d questions, %d answers", ErrAnswerMismatch, len(questions), len(answers))
	}

	system, err := c.renderer.Render(templates.ComposeTemplate, &templates.TemplateData{
		Sections:      sectionViews(),
		MaxItems:      maxItems,
		MaxItemLength: maxItemLength,
	})
	if err != nil {
		return plan.Plan{}, "", err
	}

	pairs := make([]QA, len(questions))
	for i := range questions {
		pairs[i] = QA{Question: questions[i], Answer: strings.TrimSpace(answers[i])}
	}

	reply, err := c.gateway.Generate(ctx, gateway.Prompt{
		Operation: OperationCompose,
		System:    system,
		User:      "Draft the delivery plan for this project.",
		Context: map[string]any{
			"pitch":          strings.TrimSpace(pitch),
			"clarifications": pairs,
		},
	})
	if err != nil {
		return plan.Plan{}, "", err
	}

	var draft plan.Plan
	if err := gateway.DecodeJSON(reply, &draft); err != nil {
		return plan.Plan{}, "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if dropped := draft.Normalize(); len(dropped) > 0 {
		c.logger.Scoped(ctx).Warn("dropped unknown plan sections: %s", strings.Join(dropped, ", "))
	}
	if err := draft.Validate(); err != nil {
		return plan.Plan{}, "", fmt.Errorf("%w: %w", ErrIncompletePlan, err)
	}

	ack := fmt.Sprintf("Drafted %q", draft.ProjectName)
	if draft.Summary != "" {
		ack += ": " + draft.Summary
	}
	logx.Debug(ctx, "compose", "composed plan %q with %d sections", draft.ProjectName, len(draft.Sections))
	return draft, ack, nil
}

// CleanNotes trims notes and drops blank ones. An empty result is ErrNoNotes.
func CleanNotes(notes []string) ([]string, error) {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoNotes
	}
	return out, nil
}

type revision struct {
	Acknowledgement string    `json:"acknowledgement"`
	Plan            plan.Plan `json:"plan"`
}

// Revise applies notes to current and returns the new plan with an
// acknowledgement naming what changed. current is never modified. Sections
// are merged by key, so applying the same notes twice leaves the section set
// unchanged.
func (c *Composer) Revise(ctx context.Context, current plan.Plan, notes []string) (plan.Plan, string, error) {
	notes, err := CleanNotes(notes)
	if err != nil {
		return plan.Plan{}, "", err
	}

	system, err := c.renderer.Render(templates.ReviseTemplate, &templates.TemplateData{
		Sections: sectionViews(),
	})
	if err != nil {
		return plan.Plan{}, "", err
	}

	reply, err := c.gateway.Generate(ctx, gateway.Prompt{
		Operation: OperationRevise,
		System:    system,
		User:      "Revision notes:\n- " + strings.Join(notes, "\n- "),
		Context:   current,
	})
	if err != nil {
		return plan.Plan{}, "", err
	}

	var rev revision
	if err := gateway.DecodeJSON(reply, &rev); err != nil {
		return plan.Plan{}, "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	updated := plan.Merge(current, rev.Plan)
	if err := updated.Validate(); err != nil {
		return plan.Plan{}, "", fmt.Errorf("%w: %w", ErrIncompletePlan, err)
	}

	changed := plan.Diff(current, updated)
	logx.Debug(ctx, "compose", "revision changed: %v", changed)
	return updated, acknowledgement(rev.Acknowledgement, notes, changed), nil
}

func acknowledgement(summary string, notes, changed []string) string {
	var b strings.Builder
	if summary = strings.TrimSpace(summary); summary != "" {
		b.WriteString(summary)
		if !strings.HasSuffix(summary, ".") {
			b.WriteString(".")
		}
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "Applied: %s.", strings.Join(notes, "; "))
	if len(changed) == 0 {
		b.WriteString(" No sections changed.")
	} else {
		fmt.Fprintf(&b, " Updated sections: %s.", strings.Join(changed, ", "))
	}
	return b.String()
}

func sectionViews() []templates.SectionView {
	names := plan.Sections()
	views := make([]templates.SectionView, len(names))
	for i, name := range names {
		views[i] = templates.SectionView{Name: string(name), Title: name.Title()}
	}
	return views
}
