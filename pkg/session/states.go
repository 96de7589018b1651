// Package session implements the planning session state machine, the
// orchestrator that drives it, and the store that holds sessions.
package session

// State is a stored session state.
type State string

// Session states.
const (
	// StateCreated - pitch recorded, no questions yet. A failed clarification leaves the session here.
	StateCreated State = "CREATED"
	// StateAwaitingAnswers - questions asked; waiting for exactly one set of answers.
	StateAwaitingAnswers State = "AWAITING_ANSWERS"
	// StateAwaitingApproval - a plan exists; it may be revised any number of times or approved.
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	// StateApproved - repository materialized. Terminal.
	StateApproved State = "APPROVED"

	// StateRevising is reported in logs and metrics while a revision is in
	// flight. It is never stored.
	StateRevising State = "REVISING"
)

// Trigger is a requested transition.
type Trigger string

// Triggers, one per mutating operation.
const (
	TriggerSubmitPitch    Trigger = "submit_pitch"
	TriggerSubmitAnswers  Trigger = "submit_answers"
	TriggerSubmitRevision Trigger = "submit_revision"
	TriggerApprove        Trigger = "approve"
)

// validTransitions is the single source of truth for legal transitions.
//
//nolint:gochecknoglobals // state machine definition
var validTransitions = map[State]map[Trigger]State{
	StateCreated: {
		TriggerSubmitPitch: StateAwaitingAnswers,
	},
	StateAwaitingAnswers: {
		TriggerSubmitAnswers: StateAwaitingApproval,
	},
	StateAwaitingApproval: {
		TriggerSubmitRevision: StateAwaitingApproval, // self-loop via REVISING
		TriggerApprove:        StateApproved,
	},
	StateApproved: {
		// Terminal state - no outgoing transitions
	},
}

// Next returns the state trigger leads to from, and whether it is legal.
func Next(from State, trigger Trigger) (State, bool) {
	to, ok := validTransitions[from][trigger]
	return to, ok
}

// ValidTriggers returns the triggers accepted in state, in lifecycle order.
func ValidTriggers(state State) []Trigger {
	var out []Trigger
	for _, t := range []Trigger{TriggerSubmitPitch, TriggerSubmitAnswers, TriggerSubmitRevision, TriggerApprove} {
		if _, ok := validTransitions[state][t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// GetAllStates returns every stored state.
func GetAllStates() []State {
	return []State{StateCreated, StateAwaitingAnswers, StateAwaitingApproval, StateApproved}
}

// IsValidState reports whether s is a stored state.
func IsValidState(s State) bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminalState reports whether no trigger is accepted in s.
func IsTerminalState(s State) bool {
	return len(validTransitions[s]) == 0
}
