package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/infra/storage"
	"github.com/opsforge/medic/internal/observe/metrics"
)

// JobController is the slice of the orchestrator the engine is allowed to
// use. All job mutation goes through these transitions, never through the
// job repository directly.
type JobController interface {
	// Requeue returns a healing job to pending with a fresh attempt
	// budget and schedules delivery after the delay.
	Requeue(ctx context.Context, jobID string, delay time.Duration) error

	// MarkFailed moves a healing job to the failed terminal state.
	MarkFailed(ctx context.Context, jobID, reason string) error

	// MarkEscalated moves a healing job to the escalated terminal state.
	MarkEscalated(ctx context.Context, jobID string) error

	// Remove deletes a stuck job outright (RESET action).
	Remove(ctx context.Context, jobID string) error

	// ScheduleRemediation creates a remediation job for a sync target and
	// schedules it after the delay.
	ScheduleRemediation(ctx context.Context, target string, delay time.Duration) (string, error)
}

// Notifier is the side channel for notices and human escalation.
type Notifier interface {
	// Notify fires a non-stateful side-channel notice.
	Notify(ctx context.Context, subject, message string) error

	// EscalateToHumans surfaces an issue to the external tracker and
	// returns the created reference.
	EscalateToHumans(ctx context.Context, issue *domain.Issue, reason string) (string, error)
}

// Config holds engine tuning knobs.
type Config struct {
	// StaleAfter marks a sync target as degraded when its last successful
	// sync is older than this.
	StaleAfter time.Duration
}

// DefaultConfig returns standard engine settings.
func DefaultConfig() Config {
	return Config{StaleAfter: 30 * time.Minute}
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	IssuesDetected int64      `json:"issues_detected"`
	IssuesResolved int64      `json:"issues_resolved"`
	Escalations    int64      `json:"escalations"`
	Learnings      int64      `json:"learnings"`
	OpenIssues     int        `json:"open_issues"`
	Healthy        bool       `json:"healthy"`
	LastScanAt     *time.Time `json:"last_scan_at,omitempty"`
}

// ScanReport summarises one scan pass.
type ScanReport struct {
	IssuesFound int `json:"issues_found"`
	Escalated   int `json:"escalated"`
	Errors      int `json:"errors"`
}

// Engine turns detections into durable issues, consults the decision tree
// for the issue type and executes the chosen remediation.
type Engine struct {
	cfg         Config
	issues      storage.IssueRepository
	learnings   storage.LearningRepository
	escalations storage.EscalationRepository
	jobs        storage.JobRepository
	targets     storage.SyncTargetRepository
	drift       *DriftTracker
	trees       map[domain.IssueType]*Node
	controller  JobController
	notifier    Notifier
	log         *slog.Logger

	issuesDetected atomic.Int64
	issuesResolved atomic.Int64
	escalated      atomic.Int64
	learned        atomic.Int64
	lastScanUnix   atomic.Int64
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Issues      storage.IssueRepository
	Learnings   storage.LearningRepository
	Escalations storage.EscalationRepository
	Jobs        storage.JobRepository
	Targets     storage.SyncTargetRepository
	Drift       *DriftTracker
	Trees       map[domain.IssueType]*Node
	Notifier    Notifier
}

// NewEngine creates a healing engine. The job controller is attached
// separately because the orchestrator and engine reference each other.
func NewEngine(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:         cfg,
		issues:      deps.Issues,
		learnings:   deps.Learnings,
		escalations: deps.Escalations,
		jobs:        deps.Jobs,
		targets:     deps.Targets,
		drift:       deps.Drift,
		trees:       deps.Trees,
		notifier:    deps.Notifier,
		log:         slog.Default(),
	}
}

// AttachController wires the orchestrator-facing transitions. Must be called
// before the first dispatch.
func (e *Engine) AttachController(c JobController) {
	e.controller = c
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats(ctx context.Context) Stats {
	open, err := e.issues.CountOpen(ctx)
	if err != nil {
		e.log.Warn("Failed to count open issues", "error", err)
	}
	metrics.IssuesOpen.Set(float64(open))

	s := Stats{
		IssuesDetected: e.issuesDetected.Load(),
		IssuesResolved: e.issuesResolved.Load(),
		Escalations:    e.escalated.Load(),
		Learnings:      e.learned.Load(),
		OpenIssues:     open,
		Healthy:        open == 0,
	}
	if unix := e.lastScanUnix.Load(); unix > 0 {
		t := time.Unix(unix, 0)
		s.LastScanAt = &t
	}
	return s
}

// -----------------------------------------------------------------------------
// Issue detection
// -----------------------------------------------------------------------------

// Scan pulls candidate issues from the three sources (healing jobs, sync
// targets, drift signals) and routes each through HandleIssue. Bookkeeping
// failures are logged and never abort the remaining batch.
func (e *Engine) Scan(ctx context.Context) (ScanReport, error) {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
		e.lastScanUnix.Store(time.Now().Unix())
	}()

	var report ScanReport
	for _, issue := range e.collectIssues(ctx) {
		report.IssuesFound++
		action, err := e.HandleIssue(ctx, issue)
		if err != nil {
			report.Errors++
			e.log.Error("Failed to handle issue", "issue", issue.ID, "type", issue.Type, "error", err)
			continue
		}
		if action == domain.ActionEscalate {
			report.Escalated++
		}
	}

	e.log.Info("Healing scan complete",
		"found", report.IssuesFound,
		"escalated", report.Escalated,
		"errors", report.Errors,
	)
	return report, nil
}

func (e *Engine) collectIssues(ctx context.Context) []*domain.Issue {
	var found []*domain.Issue

	// Source 1: jobs stuck in healing awaiting classification.
	jobs, err := e.jobs.List(ctx, storage.JobFilter{State: domain.JobHealing})
	if err != nil {
		e.log.Error("Scan: failed to list healing jobs", "error", err)
	}
	for _, job := range jobs {
		found = append(found, e.jobFailureIssue(job, job.Error))
	}

	// Source 2: sync targets that are erroring or stale.
	targets, err := e.targets.GetAll(ctx)
	if err != nil {
		e.log.Error("Scan: failed to list sync targets", "error", err)
	}
	for _, t := range targets {
		stale := t.LastSyncedAt != nil && time.Since(*t.LastSyncedAt) > e.cfg.StaleAfter
		if t.ConsecutiveFailures == 0 && !stale {
			continue
		}
		errText := t.LastError
		if errText == "" && stale {
			errText = fmt.Sprintf("sync stale for %s", time.Since(*t.LastSyncedAt).Round(time.Minute))
		}
		severity := domain.SeverityMedium
		if t.ConsecutiveFailures >= 3 {
			severity = domain.SeverityHigh
		}
		found = append(found, &domain.Issue{
			Type:     domain.IssueSyncFailure,
			Severity: severity,
			Context: domain.IssueContext{
				Target:              t.Name,
				ConsecutiveFailures: t.ConsecutiveFailures,
				ErrorText:           errText,
			},
		})
	}

	// Source 3: accumulated drift signals.
	if e.drift != nil {
		scores, err := e.drift.All(ctx)
		if err != nil {
			e.log.Error("Scan: failed to read drift signals", "error", err)
		}
		for target, score := range scores {
			severity := domain.SeverityLow
			switch {
			case score >= 50:
				severity = domain.SeverityHigh
			case score >= 20:
				severity = domain.SeverityMedium
			}
			found = append(found, &domain.Issue{
				Type:     domain.IssueConsistencyDrift,
				Severity: severity,
				Context: domain.IssueContext{
					Target:     target,
					DriftScore: score,
				},
			})
		}
	}

	return found
}

// ReportJobFailure is the orchestrator's entry point for a job whose
// execution attempts are exhausted.
func (e *Engine) ReportJobFailure(ctx context.Context, job *domain.Job, cause error) {
	issue := e.jobFailureIssue(job, cause.Error())
	if _, err := e.HandleIssue(ctx, issue); err != nil {
		e.log.Error("Failed to handle job failure", "job", job.ID, "error", err)
	}
}

// ReportTaskFailure records a scheduled-task failure.
func (e *Engine) ReportTaskFailure(ctx context.Context, taskName string, consecutive int, cause error) {
	severity := domain.SeverityMedium
	if consecutive >= 3 {
		severity = domain.SeverityHigh
	}
	issue := &domain.Issue{
		Type:     domain.IssueTaskFailure,
		Severity: severity,
		Context: domain.IssueContext{
			TaskName:            taskName,
			ConsecutiveFailures: consecutive,
			ErrorText:           cause.Error(),
		},
	}
	if _, err := e.HandleIssue(ctx, issue); err != nil {
		e.log.Error("Failed to handle task failure", "task", taskName, "error", err)
	}
}

// ReportDeadLetter records a delivery-exhausted queue message. No decision
// tree is registered for dead letters, so handling escalates immediately.
func (e *Engine) ReportDeadLetter(ctx context.Context, jobID string, cause error) {
	issue := &domain.Issue{
		Type:     domain.IssueDeadLetter,
		Severity: domain.SeverityHigh,
		Context: domain.IssueContext{
			JobID:     jobID,
			ErrorText: cause.Error(),
		},
	}
	if _, err := e.HandleIssue(ctx, issue); err != nil {
		e.log.Error("Failed to handle dead letter", "job", jobID, "error", err)
	}
}

// ReportHealthDegradation records sync targets the health probe found
// degraded. Like dead letters, health degradation carries no decision tree,
// so handling escalates immediately.
func (e *Engine) ReportHealthDegradation(ctx context.Context, degraded, total int) {
	severity := domain.SeverityMedium
	if total > 0 && degraded*2 >= total {
		severity = domain.SeverityHigh
	}
	issue := &domain.Issue{
		Type:     domain.IssueHealthDegradation,
		Severity: severity,
		Context: domain.IssueContext{
			ErrorText: fmt.Sprintf("%d of %d sync targets degraded", degraded, total),
		},
	}
	if _, err := e.HandleIssue(ctx, issue); err != nil {
		e.log.Error("Failed to handle health degradation", "error", err)
	}
}

func (e *Engine) jobFailureIssue(job *domain.Job, errText string) *domain.Issue {
	// Priority stands in for severity: urgent jobs escalate instead of
	// being skipped once attempts run out.
	severity := domain.SeverityMedium
	if job.Priority <= 1 {
		severity = domain.SeverityCritical
	} else if job.Priority <= 3 {
		severity = domain.SeverityHigh
	}
	return &domain.Issue{
		Type:     domain.IssueJobFailure,
		Severity: severity,
		Context: domain.IssueContext{
			JobID:       job.ID,
			JobType:     job.Type,
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			ErrorText:   errText,
		},
	}
}

// -----------------------------------------------------------------------------
// Issue handling
// -----------------------------------------------------------------------------

// HandleIssue persists the issue, evaluates the decision tree for its type
// and executes the chosen action. A missing tree and an unmatched tree both
// mean immediate escalation. Issues already resolved are a no-op so that
// duplicate handling never double-counts.
func (e *Engine) HandleIssue(ctx context.Context, issue *domain.Issue) (domain.HealAction, error) {
	if issue.Resolved {
		return "", nil
	}

	now := time.Now()
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = now

	if err := e.issues.Save(ctx, issue); err != nil {
		e.log.Error("Failed to persist issue", "issue", issue.ID, "error", err)
	}

	e.issuesDetected.Add(1)
	metrics.IssuesDetected.WithLabelValues(string(issue.Type)).Inc()

	tree, ok := e.trees[issue.Type]
	if !ok {
		e.log.Warn("No decision tree for issue type, escalating", "type", issue.Type)
		if err := e.escalateIssue(ctx, issue, domain.ErrNoDecisionTree.Error()); err != nil {
			return domain.ActionEscalate, err
		}
		return domain.ActionEscalate, nil
	}

	result := Evaluate(ctx, tree, issue, ExecutorFunc(e.execute))
	if !result.Matched {
		// Unmatched is an implicit escalate.
		if err := e.escalateIssue(ctx, issue, "no decision branch matched"); err != nil {
			return domain.ActionEscalate, err
		}
		return domain.ActionEscalate, nil
	}

	metrics.HealingActions.WithLabelValues(string(result.Action.Type)).Inc()
	return result.Action.Type, nil
}

// execute performs the side effects of a matched action. Errors wrap into
// ActionExecutionError so the evaluator falls through to the node's own
// fallback rather than consulting a different tree.
func (e *Engine) execute(ctx context.Context, issue *domain.Issue, action Action) error {
	var err error
	switch action.Type {
	case domain.ActionRetry:
		err = e.executeRetry(ctx, issue, action)
	case domain.ActionSkip:
		err = e.executeSkip(ctx, issue, action)
	case domain.ActionEscalate:
		err = e.escalateIssue(ctx, issue, action.Reason)
	case domain.ActionLearn:
		e.emitLearning(ctx, issue, action.Type, domain.OutcomeLearned, action.Reason)
	case domain.ActionNotify:
		err = e.notifier.Notify(ctx, string(issue.Type), action.Reason)
	case domain.ActionReset:
		err = e.executeReset(ctx, issue)
	default:
		err = fmt.Errorf("unknown action %q", action.Type)
	}
	if err != nil {
		return &domain.ActionExecutionError{Action: action.Type, Err: err}
	}
	return nil
}

// executeRetry schedules the remediation and stamps the issue with retry
// metadata. The issue stays open.
func (e *Engine) executeRetry(ctx context.Context, issue *domain.Issue, action Action) error {
	if issue.Context.JobID != "" {
		if err := e.controller.Requeue(ctx, issue.Context.JobID, action.Delay); err != nil {
			return err
		}
	} else {
		jobID, err := e.controller.ScheduleRemediation(ctx, issue.Context.Target, action.Delay)
		if err != nil {
			return err
		}
		issue.Context.JobID = jobID
	}

	retryAt := time.Now().Add(action.Delay)
	issue.RetryAt = &retryAt
	issue.UpdatedAt = time.Now()
	if err := e.issues.Save(ctx, issue); err != nil {
		e.log.Error("Failed to stamp retry metadata", "issue", issue.ID, "error", err)
	}
	return nil
}

func (e *Engine) executeSkip(ctx context.Context, issue *domain.Issue, action Action) error {
	if issue.Context.JobID != "" {
		if err := e.controller.MarkFailed(ctx, issue.Context.JobID, action.Reason); err != nil {
			return err
		}
	}
	e.resolveIssue(ctx, issue, "skipped after max attempts")
	e.emitLearning(ctx, issue, action.Type, domain.OutcomeSkipped, action.Reason)
	return nil
}

func (e *Engine) executeReset(ctx context.Context, issue *domain.Issue) error {
	if issue.Context.JobID != "" {
		if err := e.controller.Remove(ctx, issue.Context.JobID); err != nil {
			return err
		}
	}
	if issue.Context.Target != "" && e.drift != nil {
		if err := e.drift.Clear(ctx, issue.Context.Target); err != nil {
			return err
		}
	}
	e.resolveIssue(ctx, issue, "resource reset")
	e.emitLearning(ctx, issue, domain.ActionReset, domain.OutcomeResolved, "stuck resource cleared")
	return nil
}

// escalateIssue produces exactly one learning, persists the escalation
// record and surfaces it to humans. Resolved stays unchanged; escalated
// issues are terminal for automated handling.
func (e *Engine) escalateIssue(ctx context.Context, issue *domain.Issue, reason string) error {
	esc := &domain.Escalation{
		ID:        uuid.New().String(),
		IssueID:   issue.ID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	if ref, err := e.notifier.EscalateToHumans(ctx, issue, reason); err != nil {
		e.log.Warn("Failed to surface escalation upstream", "issue", issue.ID, "error", err)
	} else {
		esc.UpstreamRef = ref
	}

	if err := e.escalations.Add(ctx, esc); err != nil {
		return fmt.Errorf("failed to persist escalation: %w", err)
	}

	issue.Escalated = true
	issue.UpdatedAt = time.Now()
	if err := e.issues.Save(ctx, issue); err != nil {
		e.log.Error("Failed to mark issue escalated", "issue", issue.ID, "error", err)
	}

	if issue.Context.JobID != "" {
		if err := e.controller.MarkEscalated(ctx, issue.Context.JobID); err != nil {
			e.log.Warn("Failed to escalate job", "job", issue.Context.JobID, "error", err)
		}
	}

	e.escalated.Add(1)
	e.emitLearning(ctx, issue, domain.ActionEscalate, domain.OutcomeEscalated, reason)
	return nil
}

func (e *Engine) resolveIssue(ctx context.Context, issue *domain.Issue, resolution string) {
	issue.Resolved = true
	issue.Resolution = resolution
	issue.UpdatedAt = time.Now()
	if err := e.issues.Save(ctx, issue); err != nil {
		e.log.Error("Failed to mark issue resolved", "issue", issue.ID, "error", err)
	}
	e.issuesResolved.Add(1)
}

func (e *Engine) emitLearning(ctx context.Context, issue *domain.Issue, action domain.HealAction, outcome domain.LearningOutcome, notes string) {
	learning := &domain.Learning{
		ID:        uuid.New().String(),
		IssueID:   issue.ID,
		IssueType: issue.Type,
		Action:    action,
		Outcome:   outcome,
		Notes:     notes,
		CreatedAt: time.Now(),
	}
	if err := e.learnings.Add(ctx, learning); err != nil {
		e.log.Error("Failed to append learning", "issue", issue.ID, "error", err)
		return
	}
	e.learned.Add(1)
}
