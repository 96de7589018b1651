package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"planforge/pkg/clarify"
	"planforge/pkg/compose"
	"planforge/pkg/logx"
	"planforge/pkg/plan"
)

// Clarifier produces follow-up questions for a pitch.
type Clarifier interface {
	// ValidatePitch normalizes a pitch or rejects it without calling the model.
	ValidatePitch(pitch string) (string, error)
	Ask(ctx context.Context, pitch string) ([]string, error)
}

// Composer drafts and revises plans.
type Composer interface {
	Compose(ctx context.Context, pitch string, questions, answers []string) (plan.Plan, string, error)
	Revise(ctx context.Context, current plan.Plan, notes []string) (plan.Plan, string, error)
}

// Scaffolder materializes an approved plan and returns its location. notes
// are every revision note applied to the plan, oldest first.
type Scaffolder interface {
	Materialize(ctx context.Context, p plan.Plan, notes []string) (string, error)
}

// Recorder observes orchestration outcomes.
type Recorder interface {
	ObserveTransition(trigger Trigger, from, to State, duration time.Duration)
	ObserveRejection(trigger Trigger, state State, kind Kind)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(Trigger, State, State, time.Duration) {}
func (nopRecorder) ObserveRejection(Trigger, State, Kind)                 {}

// Orchestrator is the only mutation surface for sessions. Every operation
// checks the transition table, validates input before calling a
// collaborator, and either commits the complete new snapshot or leaves the
// session untouched. Collaborator errors are never retried.
type Orchestrator struct {
	store      *Store
	clarifier  Clarifier
	composer   Composer
	scaffolder Scaffolder
	recorder   Recorder
	logger     *logx.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// NewOrchestrator wires the collaborators around store.
func NewOrchestrator(store *Store, clarifier Clarifier, composer Composer, scaffolder Scaffolder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		clarifier:  clarifier,
		composer:   composer,
		scaffolder: scaffolder,
		recorder:   nopRecorder{},
		logger:     logx.NewLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the underlying session store.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Create registers a session for pitch and immediately asks for
// clarifications. If clarification fails the session stays CREATED and the
// returned error carries its id, so Clarify can retry it.
func (o *Orchestrator) Create(ctx context.Context, pitch string) (Session, error) {
	pitch, err := o.clarifier.ValidatePitch(pitch)
	if err != nil {
		err = &Error{Op: string(TriggerSubmitPitch), Kind: KindValidation, Err: err}
		o.recorder.ObserveRejection(TriggerSubmitPitch, "", KindValidation)
		o.logger.Warn("rejected %s: %v", TriggerSubmitPitch, err)
		return Session{}, err
	}

	sess := o.store.Create(pitch)
	o.logger.Scoped(logx.WithSessionID(ctx, sess.ID)).Info("Session created")

	updated, err := o.Clarify(ctx, sess.ID)
	if err != nil {
		if current, getErr := o.store.Get(sess.ID); getErr == nil {
			return current, err
		}
		return sess, err
	}
	return updated, nil
}

// Clarify runs (or retries) pitch submission for a CREATED session.
func (o *Orchestrator) Clarify(ctx context.Context, id string) (Session, error) {
	return o.transition(ctx, id, TriggerSubmitPitch, func(ctx context.Context, s Session) (Session, error) {
		questions, err := o.clarifier.Ask(ctx, s.Pitch)
		if err != nil {
			return s, err
		}
		s.Clarifications = append(make([]string, 0, len(questions)), questions...)
		s.Answers = nil
		return s, nil
	})
}

// SubmitAnswers records answers (one per question, in order) and composes the
// initial plan.
func (o *Orchestrator) SubmitAnswers(ctx context.Context, id string, answers []string) (Session, error) {
	return o.transition(ctx, id, TriggerSubmitAnswers, func(ctx context.Context, s Session) (Session, error) {
		if len(answers) != len(s.Clarifications) {
			return s, fmt.Errorf("%w: %d questions, %d answers",
				compose.ErrAnswerMismatch, len(s.Clarifications), len(answers))
		}
		cleaned := make([]string, len(answers))
		for i, a := range answers {
			cleaned[i] = strings.TrimSpace(a)
		}

		p, ack, err := o.composer.Compose(ctx, s.Pitch, s.Clarifications, cleaned)
		if err != nil {
			return s, err
		}
		s.Answers = cleaned
		s.Plan = &p
		s.LastAcknowledgement = ack
		return s, nil
	})
}

// SubmitRevision applies notes to the current plan. The plan is replaced
// wholesale on success; the state stays AWAITING_APPROVAL.
func (o *Orchestrator) SubmitRevision(ctx context.Context, id string, notes []string) (Session, error) {
	return o.transition(ctx, id, TriggerSubmitRevision, func(ctx context.Context, s Session) (Session, error) {
		cleaned, err := compose.CleanNotes(notes)
		if err != nil {
			return s, err
		}
		if s.Plan == nil {
			return s, fmt.Errorf("session in %s has no plan", s.State)
		}

		o.logger.Scoped(ctx).Info("State transition: %s → %s", s.State, StateRevising)
		p, ack, err := o.composer.Revise(ctx, s.Plan.Clone(), cleaned)
		if err != nil {
			return s, err
		}
		s.Plan = &p
		s.LastAcknowledgement = ack
		s.RevisionHistory = append(s.RevisionHistory, Revision{
			Notes:           cleaned,
			Acknowledgement: ack,
			AppliedAt:       o.store.now(),
		})
		return s, nil
	})
}

// Approve materializes the plan and records where it was written.
func (o *Orchestrator) Approve(ctx context.Context, id string) (Session, error) {
	return o.transition(ctx, id, TriggerApprove, func(ctx context.Context, s Session) (Session, error) {
		if s.Plan == nil {
			return s, fmt.Errorf("session in %s has no plan", s.State)
		}
		var notes []string
		for _, r := range s.RevisionHistory {
			notes = append(notes, r.Notes...)
		}
		path, err := o.scaffolder.Materialize(ctx, s.Plan.Clone(), notes)
		if err != nil {
			return s, err
		}
		if path == "" {
			return s, errors.New("scaffold returned an empty path")
		}
		s.RepoPath = path
		return s, nil
	})
}

// Get returns the current snapshot of id.
func (o *Orchestrator) Get(id string) (Session, error) {
	return o.store.Get(id)
}

// List returns every session.
func (o *Orchestrator) List() []Session {
	return o.store.List()
}

// Delete disposes of id.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	o.logger.Scoped(logx.WithSessionID(ctx, id)).Info("Session deleted")
	return nil
}

// isInputError reports errors caused by the caller's input rather than a
// collaborator.
func isInputError(err error) bool {
	return errors.Is(err, clarify.ErrEmptyPitch) ||
		errors.Is(err, clarify.ErrPitchTooLong) ||
		errors.Is(err, compose.ErrNoNotes) ||
		errors.Is(err, compose.ErrAnswerMismatch)
}

type step func(ctx context.Context, s Session) (Session, error)

// transition runs one trigger under the session lock. The table check happens
// before fn, so an illegal request never reaches a collaborator.
func (o *Orchestrator) transition(ctx context.Context, id string, trigger Trigger, fn step) (Session, error) {
	ctx = logx.WithSessionID(ctx, id)
	log := o.logger.Scoped(ctx)
	start := time.Now()
	var from, to State

	sess, err := o.store.Update(ctx, id, string(trigger), func(s Session) (Session, error) {
		from = s.State
		next, ok := Next(s.State, trigger)
		if !ok {
			return s, &Error{Op: string(trigger), SessionID: id, State: s.State, Kind: KindInvalidTransition, Err: ErrInvalidTransition}
		}
		to = next

		updated, err := fn(ctx, s)
		if err != nil {
			kind := KindCollaborator
			if isInputError(err) {
				kind = KindValidation
			}
			return s, &Error{Op: string(trigger), SessionID: id, State: s.State, Kind: kind, Err: err}
		}
		updated.State = next
		return updated, nil
	})
	if err != nil {
		kind := KindOf(err)
		state := from
		var se *Error
		if errors.As(err, &se) && se.State != "" {
			state = se.State
		}
		o.recorder.ObserveRejection(trigger, state, kind)
		log.Warn("rejected %s in state %s (%s): %v", trigger, state, kind, err)
		return Session{}, err
	}

	o.recorder.ObserveTransition(trigger, from, to, time.Since(start))
	log.Info("State transition: %s → %s", from, to)
	return sess, nil
}
