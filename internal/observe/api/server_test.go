package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/healing"
	"github.com/opsforge/medic/internal/infra/storage/memory"
	"github.com/opsforge/medic/internal/orchestrator"
	"github.com/opsforge/medic/internal/retry"
	"github.com/opsforge/medic/internal/scheduler"
)

type noopQueue struct{}

func (noopQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, subject, message string) error { return nil }
func (noopNotifier) EscalateToHumans(ctx context.Context, issue *domain.Issue, reason string) (string, error) {
	return "TRACKER-1", nil
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	store := memory.NewMemoryStorage()
	jobs := memory.NewJobRepo(store)
	issues := memory.NewIssueRepo(store)
	learnings := memory.NewLearningRepo(store)
	escalations := memory.NewEscalationRepo(store)
	targets := memory.NewSyncTargetRepo(store)
	drift := healing.NewDriftTracker(memory.NewKVStore(store))
	backoff := retry.DefaultBackoff()

	engine := healing.NewEngine(healing.DefaultConfig(), healing.Deps{
		Issues:      issues,
		Learnings:   learnings,
		Escalations: escalations,
		Jobs:        jobs,
		Targets:     targets,
		Drift:       drift,
		Trees:       healing.StandardTrees(backoff),
		Notifier:    noopNotifier{},
	})

	reg := orchestrator.NewRegistry()
	orch := orchestrator.New(jobs, noopQueue{}, reg, backoff)
	orch.SetHealer(engine)
	engine.AttachController(orch)

	sched := scheduler.New(engine, slog.Default())
	sched.Add("health-probe", time.Hour, func(ctx context.Context) error { return nil })

	return NewServer(0, orch, engine, sched, issues, learnings, slog.Default()), orch
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Jobs
// ============================================================================

func TestAPI_CreateAndGetJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/jobs", `{"type":"health_probe"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if created.State != domain.JobPending || created.Priority != domain.DefaultPriority {
		t.Errorf("unexpected job %+v", created)
	}

	rec = doRequest(t, s, http.MethodGet, "/jobs/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAPI_CreateJobRejectsUnknownType(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/jobs", `{"type":"mystery"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAPI_GetUnknownJobIs404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/jobs/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAPI_CancelConflictOnTerminalJob(t *testing.T) {
	s, orch := newTestServer(t)
	ctx := context.Background()

	job, _ := orch.Create(ctx, domain.JobTypeHealthProbe, nil, orchestrator.CreateOptions{})
	rec := doRequest(t, s, http.MethodDelete, "/jobs/"+job.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for pending cancel, got %d", rec.Code)
	}

	// Second cancel hits a terminal job.
	rec = doRequest(t, s, http.MethodDelete, "/jobs/"+job.ID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

// ============================================================================
// Healing and tasks
// ============================================================================

func TestAPI_HealingStatusAndHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healing/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats healing.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid stats: %v", err)
	}
	if !stats.Healthy {
		t.Errorf("fresh system should be healthy, got %+v", stats)
	}

	rec = doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAPI_ManualScan(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/healing/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report healing.ScanReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid report: %v", err)
	}
}

func TestAPI_RunTask(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/tasks/health-probe/run", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/tasks/ghost/run", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown task, got %d", rec.Code)
	}
}

func TestAPI_EmptyListsAreArrays(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/jobs", "/issues", "/learnings"} {
		rec := doRequest(t, s, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
			continue
		}
		if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
			t.Errorf("%s: expected [], got %s", path, body)
		}
	}
}
