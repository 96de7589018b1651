// Package webui serves the planning session API over HTTP.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planforge/pkg/logx"
	"planforge/pkg/session"
	"planforge/pkg/version"
)

const maxRequestBodySize = 1 << 20

// Server exposes an Orchestrator as a JSON API.
type Server struct {
	orch     *session.Orchestrator
	gatherer prometheus.Gatherer
	logger   *logx.Logger
}

// NewServer creates a server for orch. A nil gatherer disables /metrics.
func NewServer(orch *session.Orchestrator, gatherer prometheus.Gatherer) *Server {
	return &Server{
		orch:     orch,
		gatherer: gatherer,
		logger:   logx.NewLogger("webui"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/api/healthz", s.handleHealth)
	r.Get("/api/logs", s.handleLogs)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)
		r.Post("/{id}/clarify", s.handleClarify)
		r.Post("/{id}/answers", s.handleAnswers)
		r.Post("/{id}/revise", s.handleRevise)
		r.Post("/{id}/approve", s.handleApprove)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// StartServer listens on addr until ctx is cancelled, then shuts down within
// shutdownTimeout. It returns once the listener has stopped.
func (s *Server) StartServer(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web UI server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web UI server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	//nolint:contextcheck // parent context is cancelled; shutdown needs a fresh one
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed: %v", err)
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": s.orch.Store().Len(),
	})
}

// handleLogs implements GET /api/logs.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.logger.Warn("Invalid since parameter: %s", raw)
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since parameter (use RFC3339)"})
			return
		}
		since = parsed
	}

	logs := logx.GetRecentLogEntries(query.Get("session_id"), since)
	if logs == nil {
		logs = []logx.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logx.NewLogger("webui").Error("Failed to encode response: %v", err)
	}
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", Kind: string(session.KindValidation)})
		} else {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Kind: string(session.KindValidation)})
		}
		return v, false
	}
	return v, true
}
