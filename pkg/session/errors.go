package session

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected operation.
type Kind string

// Error kinds.
const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindCollaborator      Kind = "collaborator"
	// KindBusy - the caller gave up waiting for another request on the same session.
	KindBusy Kind = "busy"
)

// Sentinels matched with errors.Is, one per kind.
var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid transition for current state")
	ErrValidation        = errors.New("invalid input")
	ErrCollaborator      = errors.New("collaborator failed")
	ErrBusy              = errors.New("session busy")
)

func sentinel(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindValidation:
		return ErrValidation
	case KindCollaborator:
		return ErrCollaborator
	case KindBusy:
		return ErrBusy
	default:
		return nil
	}
}

// Error is returned by every orchestrator and store operation. State is the
// session state when the operation was rejected; the session is unchanged.
type Error struct {
	Op        string
	SessionID string
	State     State
	Kind      Kind
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.SessionID != "" {
		msg += " on session " + e.SessionID
	}
	if e.State != "" {
		msg += fmt.Sprintf(" (%s)", e.State)
	}
	if s := sentinel(e.Kind); s != nil {
		msg += ": " + s.Error()
	}
	if e.Err != nil && !errors.Is(sentinel(e.Kind), e.Err) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause, so errors.Is matches
// ErrNotFound and errors.As reaches a wrapped gateway or scaffold error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinel(e.Kind); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of a session error, or "" for other errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
