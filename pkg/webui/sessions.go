package webui

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planforge/pkg/session"
)

type createRequest struct {
	Prompt string `json:"prompt"`
}

type answersRequest struct {
	Answers []string `json:"answers"`
}

type reviseRequest struct {
	Notes []string `json:"notes"`
}

// sessionResponse is a snapshot plus what the client may do next.
type sessionResponse struct {
	session.Session
	PendingQuestions int               `json:"pending_questions"`
	NextActions      []session.Trigger `json:"next_actions"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Operation string `json:"operation,omitempty"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func newSessionResponse(s session.Session) sessionResponse {
	next := session.ValidTriggers(s.State)
	if next == nil {
		next = []session.Trigger{}
	}
	return sessionResponse{Session: s, PendingQuestions: s.PendingQuestions(), NextActions: next}
}

// statusFor maps an orchestrator error onto an HTTP status.
func statusFor(err error) int {
	switch session.KindOf(err) {
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindInvalidTransition, session.KindBusy:
		return http.StatusConflict
	case session.KindCollaborator:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var se *session.Error
	if errors.As(err, &se) {
		resp.Kind = string(se.Kind)
		resp.Operation = se.Op
		resp.State = string(se.State)
		resp.SessionID = se.SessionID
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed with %d: %v", status, err)
	}
	writeJSON(w, status, resp)
}

// handleListSessions implements GET /api/sessions. ?state= filters by state.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	want := session.State(r.URL.Query().Get("state"))
	if want != "" && !session.IsValidState(want) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown state " + string(want), Kind: string(session.KindValidation)})
		return
	}

	out := make([]sessionResponse, 0)
	for _, sess := range s.orch.List() {
		if want != "" && sess.State != want {
			continue
		}
		out = append(out, newSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateSession implements POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createRequest](w, r)
	if !ok {
		return
	}
	sess, err := s.orch.Create(r.Context(), req.Prompt)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

// handleGetSession implements GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// handleDeleteSession implements DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClarify implements POST /api/sessions/{id}/clarify.
func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.orch.Clarify(r.Context(), chi.URLParam(r, "id")))
}

// handleAnswers implements POST /api/sessions/{id}/answers.
func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[answersRequest](w, r)
	if !ok {
		return
	}
	s.respond(w)(s.orch.SubmitAnswers(r.Context(), chi.URLParam(r, "id"), req.Answers))
}

// handleRevise implements POST /api/sessions/{id}/revise.
func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reviseRequest](w, r)
	if !ok {
		return
	}
	s.respond(w)(s.orch.SubmitRevision(r.Context(), chi.URLParam(r, "id"), req.Notes))
}

// handleApprove implements POST /api/sessions/{id}/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.orch.Approve(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) respond(w http.ResponseWriter) func(session.Session, error) {
	return func(sess session.Session, err error) {
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(sess))
	}
}
