// Package clarify turns a project pitch into a bounded list of follow-up questions.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planforge/pkg/config"
	"planforge/pkg/gateway"
	"planforge/pkg/logx"
	"planforge/pkg/templates"
	"planforge/pkg/utils"
)

// Operation labels clarification calls in logs and metrics.
const Operation = "clarify"

// Input errors, raised before any gateway call.
var (
	ErrEmptyPitch   = errors.New("pitch is empty")
	ErrPitchTooLong = errors.New("pitch exceeds token limit")
)

// Response errors: the gateway answered, but not usefully.
var (
	ErrMalformedResponse = errors.New("malformed clarification response")
	ErrTooManyQuestions  = errors.New("too many clarification questions")
)

// Clarifier asks the model for clarifying questions about a pitch.
type Clarifier struct {
	gateway  gateway.Gateway
	renderer *templates.Renderer
	counter  *utils.TokenCounter
	cfg      config.ClarifyConfig
	logger   *logx.Logger
}

// New creates a Clarifier. MaxQuestions is clamped to [0, config.MaxQuestionsLimit].
func New(gw gateway.Gateway, cfg config.ClarifyConfig) *Clarifier {
	cfg.MaxQuestions = min(max(cfg.MaxQuestions, 0), config.MaxQuestionsLimit)
	// A nil counter falls back to character estimation.
	counter, _ := utils.NewTokenCounter()
	return &Clarifier{
		gateway:  gw,
		renderer: templates.MustNewRenderer(),
		counter:  counter,
		cfg:      cfg,
		logger:   logx.NewLogger("clarify"),
	}
}

// MaxQuestions returns the effective question bound.
func (c *Clarifier) MaxQuestions() int {
	return c.cfg.MaxQuestions
}

// ValidatePitch trims the pitch and checks it is non-empty and within the
// token limit.
func (c *Clarifier) ValidatePitch(pitch string) (string, error) {
	pitch = strings.TrimSpace(pitch)
	if pitch == "" {
		return "", ErrEmptyPitch
	}
	if limit := c.cfg.MaxPitchTokens; limit > 0 {
		if n := c.counter.CountTokens(pitch); n > limit {
			return "", fmt.Errorf("%w: %d tokens, limit %d", ErrPitchTooLong, n, limit)
		}
	}
	return pitch, nil
}

// Ask returns between zero and MaxQuestions questions for pitch. Gateway
// errors are returned unchanged. A reply with more questions than allowed is
// rejected rather than truncated.
func (c *Clarifier) Ask(ctx context.Context, pitch string) ([]string, error) {
	pitch, err := c.ValidatePitch(pitch)
	if err != nil {
		return nil, err
	}

	system, err := c.renderer.Render(templates.ClarifyTemplate, &templates.TemplateData{
		MaxQuestions: c.cfg.MaxQuestions,
	})
	if err != nil {
		return nil, err
	}

	reply, err := c.gateway.Generate(ctx, gateway.Prompt{
		Operation: Operation,
		System:    system,
		User:      "Project pitch:\n" + pitch,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Questions []string `json:"questions"`
	}
	if err := gateway.DecodeJSON(reply, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	questions := cleanQuestions(resp.Questions)
	if len(questions) > c.cfg.MaxQuestions {
		c.logger.Scoped(ctx).Warn("model returned %d questions, limit is %d", len(questions), c.cfg.MaxQuestions)
		return nil, fmt.Errorf("%w: got %d, limit %d", ErrTooManyQuestions, len(questions), c.cfg.MaxQuestions)
	}

	logx.Debug(ctx, "clarify", "generated %d questions", len(questions))
	return questions, nil
}

func cleanQuestions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
