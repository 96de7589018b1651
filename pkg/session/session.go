package session

import (
	"slices"
	"time"

	"planforge/pkg/plan"
)

// Revision is one applied set of revision notes.
type Revision struct {
	Notes           []string  `json:"notes"`
	Acknowledgement string    `json:"acknowledgement"`
	AppliedAt       time.Time `json:"applied_at"`
}

// Session is a snapshot of one planning conversation. Snapshots handed out by
// the Store are copies; mutating one has no effect on the stored session.
type Session struct {
	ID                  string     `json:"session_id"`
	State               State      `json:"state"`
	Pitch               string     `json:"pitch"`
	Clarifications      []string   `json:"clarifications"`
	Answers             []string   `json:"answers"`
	Plan                *plan.Plan `json:"plan,omitempty"`
	RevisionHistory     []Revision `json:"revision_history"`
	LastAcknowledgement string     `json:"last_acknowledgement,omitempty"`
	RepoPath            string     `json:"repo_path,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Clarifications = slices.Clone(s.Clarifications)
	out.Answers = slices.Clone(s.Answers)
	if s.Plan != nil {
		p := s.Plan.Clone()
		out.Plan = &p
	}
	if s.RevisionHistory != nil {
		out.RevisionHistory = make([]Revision, len(s.RevisionHistory))
		for i, r := range s.RevisionHistory {
			out.RevisionHistory[i] = Revision{
				Notes:           slices.Clone(r.Notes),
				Acknowledgement: r.Acknowledgement,
				AppliedAt:       r.AppliedAt,
			}
		}
	}
	return out
}

// PendingQuestions reports how many answers the session expects.
func (s Session) PendingQuestions() int {
	if s.State != StateAwaitingAnswers {
		return 0
	}
	return len(s.Clarifications)
}
