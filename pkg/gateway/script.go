package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Step is one scripted Gateway outcome.
type Step struct {
	Reply string
	Err   error
	// Block, when set, makes Generate wait for it to close (or ctx to end)
	// before returning the outcome.
	Block <-chan struct{}
}

// Script is a deterministic Gateway for tests and dry runs. Each Generate call
// consumes the next step; prompts are recorded for inspection.
type Script struct {
	mu      sync.Mutex
	steps   []Step
	prompts []Prompt
}

// NewScript creates a Script that plays steps in order.
func NewScript(steps ...Step) *Script {
	return &Script{steps: steps}
}

// Reply is shorthand for a successful step.
func Reply(text string) Step { return Step{Reply: text} }

// Fail is shorthand for a failing step.
func Fail(err error) Step { return Step{Err: err} }

// Push appends further steps.
func (s *Script) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Generate implements Gateway.
func (s *Script) Generate(ctx context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("script gateway: no step left for %s", p.Operation)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return step.Reply, step.Err
}

// Prompts returns every prompt received so far.
func (s *Script) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

// Calls returns how many times Generate was invoked.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
