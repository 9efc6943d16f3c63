package healing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/infra/storage/memory"
	"github.com/opsforge/medic/internal/retry"
)

// ============================================================================
// Mocks
// ============================================================================

type mockController struct {
	requeued       []string
	requeueDelays  []time.Duration
	failed         []string
	escalatedJobs  []string
	removed        []string
	remediations   []string
	requeueErr     error
	remediationErr error
}

func (m *mockController) Requeue(ctx context.Context, jobID string, delay time.Duration) error {
	if m.requeueErr != nil {
		return m.requeueErr
	}
	m.requeued = append(m.requeued, jobID)
	m.requeueDelays = append(m.requeueDelays, delay)
	return nil
}

func (m *mockController) MarkFailed(ctx context.Context, jobID, reason string) error {
	m.failed = append(m.failed, jobID)
	return nil
}

func (m *mockController) MarkEscalated(ctx context.Context, jobID string) error {
	m.escalatedJobs = append(m.escalatedJobs, jobID)
	return nil
}

func (m *mockController) Remove(ctx context.Context, jobID string) error {
	m.removed = append(m.removed, jobID)
	return nil
}

func (m *mockController) ScheduleRemediation(ctx context.Context, target string, delay time.Duration) (string, error) {
	if m.remediationErr != nil {
		return "", m.remediationErr
	}
	m.remediations = append(m.remediations, target)
	return "remediation-" + target, nil
}

type mockNotifier struct {
	notices     []string
	escalations []string
	escalateErr error
}

func (m *mockNotifier) Notify(ctx context.Context, subject, message string) error {
	m.notices = append(m.notices, subject)
	return nil
}

func (m *mockNotifier) EscalateToHumans(ctx context.Context, issue *domain.Issue, reason string) (string, error) {
	if m.escalateErr != nil {
		return "", m.escalateErr
	}
	m.escalations = append(m.escalations, reason)
	return "TRACKER-1", nil
}

type engineFixture struct {
	engine     *Engine
	store      *memory.MemoryStorage
	jobs       *memory.JobRepo
	issues     *memory.IssueRepo
	learnings  *memory.LearningRepo
	targets    *memory.SyncTargetRepo
	drift      *DriftTracker
	controller *mockController
	notifier   *mockNotifier
}

func newEngineFixture() *engineFixture {
	store := memory.NewMemoryStorage()
	jobs := memory.NewJobRepo(store)
	issues := memory.NewIssueRepo(store)
	learnings := memory.NewLearningRepo(store)
	escalations := memory.NewEscalationRepo(store)
	targets := memory.NewSyncTargetRepo(store)
	drift := NewDriftTracker(memory.NewKVStore(store))
	controller := &mockController{}
	notifier := &mockNotifier{}

	engine := NewEngine(DefaultConfig(), Deps{
		Issues:      issues,
		Learnings:   learnings,
		Escalations: escalations,
		Jobs:        jobs,
		Targets:     targets,
		Drift:       drift,
		Trees:       StandardTrees(retry.DefaultBackoff()),
		Notifier:    notifier,
	})
	engine.AttachController(controller)

	return &engineFixture{
		engine:     engine,
		store:      store,
		jobs:       jobs,
		issues:     issues,
		learnings:  learnings,
		targets:    targets,
		drift:      drift,
		controller: controller,
		notifier:   notifier,
	}
}

// ============================================================================
// HandleIssue
// ============================================================================

func TestHandleIssue_ResolvedIssueIsNoop(t *testing.T) {
	f := newEngineFixture()

	action, err := f.engine.HandleIssue(context.Background(), &domain.Issue{
		ID:       "issue-1",
		Type:     domain.IssueJobFailure,
		Resolved: true,
	})
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != "" {
		t.Errorf("resolved issue must yield no action, got %s", action)
	}

	stats := f.engine.Stats(context.Background())
	if stats.IssuesDetected != 0 {
		t.Errorf("resolved issue must not be counted, detected=%d", stats.IssuesDetected)
	}
}

func TestHandleIssue_RetryRequeuesJobAndStaysOpen(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	issue := &domain.Issue{
		Type:     domain.IssueJobFailure,
		Severity: domain.SeverityMedium,
		Context:  domain.IssueContext{JobID: "job-1", Attempts: 1, MaxAttempts: 3},
	}
	action, err := f.engine.HandleIssue(ctx, issue)
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != domain.ActionRetry {
		t.Fatalf("expected RETRY, got %s", action)
	}
	if len(f.controller.requeued) != 1 || f.controller.requeued[0] != "job-1" {
		t.Errorf("expected job-1 requeued, got %v", f.controller.requeued)
	}
	if f.controller.requeueDelays[0] != 2*time.Second {
		t.Errorf("expected 2s requeue delay, got %v", f.controller.requeueDelays[0])
	}

	saved, err := f.issues.Get(ctx, issue.ID)
	if err != nil {
		t.Fatalf("issue not persisted: %v", err)
	}
	if saved.Resolved {
		t.Error("retried issue must stay open")
	}
	if saved.RetryAt == nil {
		t.Error("retried issue must carry retry metadata")
	}
}

func TestHandleIssue_SkipMarksJobFailedAndResolves(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	issue := &domain.Issue{
		Type:     domain.IssueJobFailure,
		Severity: domain.SeverityMedium,
		Context:  domain.IssueContext{JobID: "job-1", Attempts: 3, MaxAttempts: 3},
	}
	action, err := f.engine.HandleIssue(ctx, issue)
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != domain.ActionSkip {
		t.Fatalf("expected SKIP, got %s", action)
	}
	if len(f.controller.failed) != 1 {
		t.Errorf("expected the job marked failed, got %v", f.controller.failed)
	}

	saved, _ := f.issues.Get(ctx, issue.ID)
	if !saved.Resolved || saved.Resolution != "skipped after max attempts" {
		t.Errorf("expected resolved with skip resolution, got %+v", saved)
	}

	learnings, _ := f.learnings.List(ctx, 0)
	if len(learnings) != 1 || learnings[0].Outcome != domain.OutcomeSkipped {
		t.Errorf("expected one skipped learning, got %+v", learnings)
	}
}

func TestHandleIssue_CriticalExhaustedEscalates(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	issue := &domain.Issue{
		Type:     domain.IssueJobFailure,
		Severity: domain.SeverityCritical,
		Context:  domain.IssueContext{JobID: "job-1", Attempts: 3, MaxAttempts: 3},
	}
	action, err := f.engine.HandleIssue(ctx, issue)
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != domain.ActionEscalate {
		t.Fatalf("expected ESCALATE, got %s", action)
	}
	if len(f.controller.escalatedJobs) != 1 {
		t.Errorf("expected the job marked escalated, got %v", f.controller.escalatedJobs)
	}

	saved, _ := f.issues.Get(ctx, issue.ID)
	if !saved.Escalated {
		t.Error("issue must be flagged escalated")
	}
	if saved.Resolved {
		t.Error("escalation must not mark the issue resolved")
	}

	// Exactly one learning per escalation.
	learnings, _ := f.learnings.List(ctx, 0)
	if len(learnings) != 1 || learnings[0].Outcome != domain.OutcomeEscalated {
		t.Errorf("expected exactly one escalated learning, got %+v", learnings)
	}
}

func TestHandleIssue_MissingTreeEscalatesImmediately(t *testing.T) {
	f := newEngineFixture()

	issue := &domain.Issue{
		Type:     domain.IssueDeadLetter,
		Severity: domain.SeverityHigh,
		Context:  domain.IssueContext{JobID: "job-1", ErrorText: "delivery budget exhausted"},
	}
	action, err := f.engine.HandleIssue(context.Background(), issue)
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != domain.ActionEscalate {
		t.Errorf("expected immediate escalate without a tree, got %s", action)
	}
	if len(f.notifier.escalations) != 1 {
		t.Errorf("expected one human escalation, got %v", f.notifier.escalations)
	}
}

func TestHandleIssue_NotifierFailureStillEscalates(t *testing.T) {
	f := newEngineFixture()
	f.notifier.escalateErr = errors.New("tracker down")

	issue := &domain.Issue{
		Type:    domain.IssueDeadLetter,
		Context: domain.IssueContext{JobID: "job-1"},
	}
	action, err := f.engine.HandleIssue(context.Background(), issue)
	if err != nil {
		t.Fatalf("escalation must survive a notifier failure: %v", err)
	}
	if action != domain.ActionEscalate {
		t.Errorf("expected ESCALATE, got %s", action)
	}

	saved, _ := f.issues.Get(context.Background(), issue.ID)
	if !saved.Escalated {
		t.Error("issue must be escalated even when the tracker is down")
	}
}

func TestHandleIssue_RetryExecutorFailureFallsBack(t *testing.T) {
	f := newEngineFixture()
	f.controller.requeueErr = errors.New("queue unavailable")

	// Attempts < 3 matches RETRY; its executor fails, so the job-failure
	// tree's fallback escalate takes over.
	issue := &domain.Issue{
		Type:     domain.IssueJobFailure,
		Severity: domain.SeverityMedium,
		Context:  domain.IssueContext{JobID: "job-1", Attempts: 1, MaxAttempts: 3},
	}
	action, err := f.engine.HandleIssue(context.Background(), issue)
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != domain.ActionEscalate {
		t.Errorf("expected fallback escalate after retry failure, got %s", action)
	}
}

func TestHandleIssue_SyncRetryWithoutJobSchedulesRemediation(t *testing.T) {
	f := newEngineFixture()

	issue := &domain.Issue{
		Type:     domain.IssueSyncFailure,
		Severity: domain.SeverityMedium,
		Context:  domain.IssueContext{Target: "core-api", ErrorText: "rate limit exceeded"},
	}
	action, err := f.engine.HandleIssue(context.Background(), issue)
	if err != nil {
		t.Fatalf("HandleIssue failed: %v", err)
	}
	if action != domain.ActionRetry {
		t.Fatalf("expected RETRY, got %s", action)
	}
	if len(f.controller.remediations) != 1 || f.controller.remediations[0] != "core-api" {
		t.Errorf("expected a remediation for core-api, got %v", f.controller.remediations)
	}
	if issue.Context.JobID == "" {
		t.Error("remediation job id must be stamped on the issue")
	}
}

// ============================================================================
// Scan
// ============================================================================

func TestScan_NoIssuesLeavesCountersUnchanged(t *testing.T) {
	f := newEngineFixture()

	report, err := f.engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.IssuesFound != 0 || report.Escalated != 0 || report.Errors != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}

	stats := f.engine.Stats(context.Background())
	if stats.IssuesDetected != 0 || stats.IssuesResolved != 0 || stats.Escalations != 0 {
		t.Errorf("counters must be untouched by an empty scan, got %+v", stats)
	}
	if !stats.Healthy {
		t.Error("no open issues means healthy")
	}
	if stats.LastScanAt == nil {
		t.Error("scan must stamp the last scan time")
	}
}

func TestScan_PicksUpHealingJobs(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	f.jobs.Save(ctx, &domain.Job{
		ID:          "job-1",
		Type:        domain.JobTypeRepoSync,
		State:       domain.JobHealing,
		Priority:    domain.DefaultPriority,
		Attempts:    1,
		MaxAttempts: 3,
		Error:       "boom",
	})

	report, err := f.engine.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.IssuesFound != 1 {
		t.Fatalf("expected 1 issue, got %+v", report)
	}
	if len(f.controller.requeued) != 1 {
		t.Errorf("healing job with attempts left should be requeued, got %v", f.controller.requeued)
	}
}

func TestScan_PicksUpFailingSyncTargets(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	f.targets.Save(ctx, &domain.SyncTarget{
		Name:                "core-api",
		ConsecutiveFailures: 2,
		LastError:           "401 unauthorized",
	})

	report, err := f.engine.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.IssuesFound != 1 || report.Escalated != 1 {
		t.Errorf("auth failure should escalate, got %+v", report)
	}
}

func TestScan_PicksUpDriftSignals(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	f.drift.Record(ctx, "core-api", 10)

	report, err := f.engine.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.IssuesFound != 1 {
		t.Fatalf("expected 1 drift issue, got %+v", report)
	}
	// Low drift notifies.
	if len(f.notifier.notices) != 1 {
		t.Errorf("expected one notice, got %v", f.notifier.notices)
	}
}

func TestReportTaskFailure_ThirdFailureEscalates(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	cause := errors.New("storage unavailable")

	f.engine.ReportTaskFailure(ctx, "repo-sync", 1, cause)
	f.engine.ReportTaskFailure(ctx, "repo-sync", 2, cause)
	f.engine.ReportTaskFailure(ctx, "repo-sync", 3, cause)

	stats := f.engine.Stats(ctx)
	if stats.Escalations != 1 {
		t.Errorf("expected one escalation on the third failure, got %d", stats.Escalations)
	}
	// First two failures were learned.
	if stats.Learnings != 3 { // two learned + one escalated learning
		t.Errorf("expected 3 learnings, got %d", stats.Learnings)
	}
}

func TestReportHealthDegradation_EscalatesWithoutTree(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	f.engine.ReportHealthDegradation(ctx, 2, 3)

	stats := f.engine.Stats(ctx)
	if stats.Escalations != 1 {
		t.Fatalf("health degradation carries no tree and must escalate, got %d escalations", stats.Escalations)
	}
	if len(f.notifier.escalations) != 1 {
		t.Errorf("expected one human escalation, got %v", f.notifier.escalations)
	}
}
