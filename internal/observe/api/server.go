package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/healing"
	"github.com/opsforge/medic/internal/infra/storage"
	"github.com/opsforge/medic/internal/orchestrator"
	"github.com/opsforge/medic/internal/scheduler"
)

// Server exposes the operational REST surface: job CRUD, healing status
// and manual triggers for scans and scheduled tasks.
type Server struct {
	orch      *orchestrator.Orchestrator
	engine    *healing.Engine
	sched     *scheduler.Scheduler
	issues    storage.IssueRepository
	learnings storage.LearningRepository
	log       *slog.Logger
	server    *http.Server
}

func NewServer(
	port int,
	orch *orchestrator.Orchestrator,
	engine *healing.Engine,
	sched *scheduler.Scheduler,
	issues storage.IssueRepository,
	learnings storage.LearningRepository,
	log *slog.Logger,
) *Server {
	s := &Server{
		orch:      orch,
		engine:    engine,
		sched:     sched,
		issues:    issues,
		learnings: learnings,
		log:       log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods(http.MethodDelete)
	r.HandleFunc("/healing/status", s.handleHealingStatus).Methods(http.MethodGet)
	r.HandleFunc("/healing/scan", s.handleScan).Methods(http.MethodPost)
	r.HandleFunc("/issues", s.handleListIssues).Methods(http.MethodGet)
	r.HandleFunc("/learnings", s.handleListLearnings).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{name}/run", s.handleRunTask).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ----------------------------------------------------------------------------
// Jobs
// ----------------------------------------------------------------------------

type createJobRequest struct {
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
	MaxAttempts int            `json:"max_attempts"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	job, err := s.orch.Create(r.Context(), domain.JobType(req.Type), req.Payload, orchestrator.CreateOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.JobFilter{
		State: domain.JobState(q.Get("state")),
		Type:  domain.JobType(q.Get("type")),
	}
	jobs, err := s.orch.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.orch.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.Cancel(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(domain.JobCancelled)})
}

// ----------------------------------------------------------------------------
// Healing
// ----------------------------------------------------------------------------

func (s *Server) handleHealingStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats(r.Context()))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Scan(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.issues.ListOpen(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if issues == nil {
		issues = []*domain.Issue{}
	}
	s.writeJSON(w, http.StatusOK, issues)
}

func (s *Server) handleListLearnings(w http.ResponseWriter, r *http.Request) {
	learnings, err := s.learnings.List(r.Context(), 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if learnings == nil {
		learnings = []*domain.Learning{}
	}
	s.writeJSON(w, http.StatusOK, learnings)
}

// ----------------------------------------------------------------------------
// Tasks and health
// ----------------------------------------------------------------------------

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.sched.Trigger(r.Context(), name); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"task": name, "status": "ran"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats(r.Context())
	status := "healthy"
	code := http.StatusOK
	if !stats.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":      status,
		"open_issues": stats.OpenIssues,
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
