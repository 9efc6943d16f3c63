package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/infra/storage"
	"github.com/opsforge/medic/internal/observe/metrics"
	"github.com/opsforge/medic/internal/retry"
)

// Enqueuer schedules a job id for delivery after the delay. Delivery is
// at-least-once; Dispatch tolerates duplicates by checking job state first.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, delay time.Duration) error
}

// FailureSink receives jobs whose execution attempts are exhausted. The
// healing engine implements it.
type FailureSink interface {
	ReportJobFailure(ctx context.Context, job *domain.Job, cause error)
}

// CreateOptions tune job creation. Zero values fall back to defaults.
// Priority 1 is the most urgent settable value; anything below 1 selects
// DefaultPriority.
type CreateOptions struct {
	Priority    int
	MaxAttempts int
}

// Orchestrator owns job identity and lifecycle transitions. It never runs
// business logic itself; it sequences state and delegates execution to the
// registered work function. It is the sole writer of job state, which makes
// transitions within one job's history totally ordered.
type Orchestrator struct {
	jobs     storage.JobRepository
	queue    Enqueuer
	registry *Registry
	backoff  *retry.Backoff
	healer   FailureSink
	log      *slog.Logger

	// locks serialize dispatch per job id (striped by id hash).
	locks [lockShards]sync.Mutex
}

const lockShards = 256

func New(jobs storage.JobRepository, queue Enqueuer, registry *Registry, backoff *retry.Backoff) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		queue:    queue,
		registry: registry,
		backoff:  backoff,
		log:      slog.Default(),
	}
}

// SetHealer attaches the failure sink. Must be called before the first
// dispatch; set separately because the engine also references the
// orchestrator as its job controller.
func (o *Orchestrator) SetHealer(h FailureSink) {
	o.healer = h
}

// lockFor returns the dispatch lock for a job id, guaranteeing no two
// dispatches of the same id run concurrently.
func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &o.locks[h.Sum32()%lockShards]
}

// -----------------------------------------------------------------------------
// Caller-facing operations
// -----------------------------------------------------------------------------

// Create persists a new pending job and schedules its first delivery.
func (o *Orchestrator) Create(ctx context.Context, t domain.JobType, payload map[string]any, opts CreateOptions) (*domain.Job, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown job type %q", t)
	}

	priority := opts.Priority
	if priority < 1 {
		priority = domain.DefaultPriority
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	now := time.Now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Type:        t,
		State:       domain.JobPending,
		Payload:     payload,
		Priority:    priority,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	if err := o.queue.Enqueue(ctx, job.ID, 0); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsCreated.WithLabelValues(string(t)).Inc()
	o.log.Info("Job created", "job", job.ID, "type", t, "priority", priority)
	return job, nil
}

// Cancel marks a job cancelled. Running jobs cannot be interrupted; the
// request is rejected, not queued.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.State, domain.JobCancelled) {
		return fmt.Errorf("cannot cancel job in state %s: %w", job.State, domain.ErrInvalidTransition)
	}

	job.State = domain.JobCancelled
	job.UpdatedAt = time.Now()
	if err := o.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}
	o.log.Info("Job cancelled", "job", id)
	return nil
}

// Get retrieves a job by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Job, error) {
	return o.jobs.Get(ctx, id)
}

// List retrieves jobs matching the filter.
func (o *Orchestrator) List(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	return o.jobs.List(ctx, filter)
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

// Dispatch runs one execution attempt for a pending job. Called by the
// delivery queue; duplicate deliveries of non-pending jobs are ignored.
// Execution failures are absorbed into the state machine, never returned
// as process-fatal errors.
func (o *Orchestrator) Dispatch(ctx context.Context, id string) error {
	job, execErr, err := o.runAttempt(ctx, id)
	if err != nil {
		return err
	}

	// Hand off outside the dispatch lock: the engine's remediation calls
	// back into Requeue/MarkFailed/MarkEscalated for this same id.
	if job != nil && execErr != nil && o.healer != nil {
		o.healer.ReportJobFailure(ctx, job, execErr)
	}
	return nil
}

// runAttempt performs one locked execution attempt. It returns a non-nil
// job and execution error only when attempts are exhausted and the job was
// left in healing for the engine to classify.
func (o *Orchestrator) runAttempt(ctx context.Context, id string) (*domain.Job, error, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.State != domain.JobPending {
		// At-least-once delivery: a duplicate or stale message.
		o.log.Debug("Skipping dispatch for non-pending job", "job", id, "state", job.State)
		return nil, nil, nil
	}

	fn, err := o.registry.Resolve(job)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	job.State = domain.JobRunning
	job.Attempts++
	job.StartedAt = &now
	job.UpdatedAt = now
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to persist running state: %w", err)
	}
	metrics.JobsDispatched.WithLabelValues(string(job.Type)).Inc()

	result, execErr := o.invoke(ctx, fn, job)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(now).Seconds())

	if execErr == nil {
		done := time.Now()
		job.State = domain.JobCompleted
		job.Result = result
		job.Error = ""
		job.CompletedAt = &done
		job.UpdatedAt = done
		if err := o.jobs.Save(ctx, job); err != nil {
			return nil, nil, fmt.Errorf("failed to persist completion: %w", err)
		}
		metrics.JobsCompleted.WithLabelValues(string(job.Type)).Inc()
		o.log.Info("Job completed", "job", id, "type", job.Type, "attempts", job.Attempts)
		return nil, nil, nil
	}

	// Failure path: absorb into the state machine.
	job.State = domain.JobHealing
	job.Error = execErr.Error()
	job.UpdatedAt = time.Now()
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to persist healing state: %w", err)
	}
	metrics.JobsFailed.WithLabelValues(string(job.Type)).Inc()

	if retry.ShouldRetry(job.Attempts, job.MaxAttempts) {
		delay := o.backoff.NextDelay(job.Attempts)
		o.log.Warn("Job failed, re-queueing",
			"job", id,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"delay", delay,
			"error", execErr,
		)
		return nil, nil, o.requeueLocked(ctx, job, delay)
	}

	// Attempts exhausted: the job stays healing until the engine classifies it.
	o.log.Warn("Job attempts exhausted, handing to healing engine",
		"job", id,
		"attempts", job.Attempts,
		"error", execErr,
	)
	return job, execErr, nil
}

// invoke runs the work function, converting panics into errors so a broken
// work function cannot take down the dispatch loop.
func (o *Orchestrator) invoke(ctx context.Context, fn WorkFunc, job *domain.Job) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work function panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

func (o *Orchestrator) requeueLocked(ctx context.Context, job *domain.Job, delay time.Duration) error {
	job.State = domain.JobPending
	job.UpdatedAt = time.Now()
	if err := o.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist requeue: %w", err)
	}
	if err := o.queue.Enqueue(ctx, job.ID, delay); err != nil {
		return fmt.Errorf("failed to enqueue retry: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Healing engine transitions (healing.JobController)
// -----------------------------------------------------------------------------

// Requeue returns a healing job to pending with a fresh attempt budget and
// a delivery delay. Used by the RETRY remediation action. Attempts reset so
// the healed job gets its full budget again and never reads above
// MaxAttempts after the next dispatch.
func (o *Orchestrator) Requeue(ctx context.Context, jobID string, delay time.Duration) error {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.State, domain.JobPending) {
		return fmt.Errorf("cannot requeue job in state %s: %w", job.State, domain.ErrInvalidTransition)
	}

	job.Attempts = 0
	job.HealingAttempts++
	return o.requeueLocked(ctx, job, delay)
}

// MarkFailed moves a healing job to the failed terminal state (SKIP action).
func (o *Orchestrator) MarkFailed(ctx context.Context, jobID, reason string) error {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.State, domain.JobFailed) {
		return fmt.Errorf("cannot fail job in state %s: %w", job.State, domain.ErrInvalidTransition)
	}

	job.State = domain.JobFailed
	if reason != "" {
		job.Error = reason
	}
	job.HealingAttempts++
	job.UpdatedAt = time.Now()
	if err := o.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist failed state: %w", err)
	}
	return nil
}

// MarkEscalated moves a healing job to the escalated terminal state. Only a
// human action may resolve it afterwards.
func (o *Orchestrator) MarkEscalated(ctx context.Context, jobID string) error {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.State, domain.JobEscalated) {
		return fmt.Errorf("cannot escalate job in state %s: %w", job.State, domain.ErrInvalidTransition)
	}

	now := time.Now()
	job.State = domain.JobEscalated
	job.HealingAttempts++
	job.EscalatedAt = &now
	job.UpdatedAt = now
	if err := o.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist escalated state: %w", err)
	}
	return nil
}

// Remove deletes a stuck job outright (RESET action).
func (o *Orchestrator) Remove(ctx context.Context, jobID string) error {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ScheduleRemediation creates a remediation job for a sync target and
// schedules it after the delay.
func (o *Orchestrator) ScheduleRemediation(ctx context.Context, target string, delay time.Duration) (string, error) {
	now := time.Now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Type:        domain.JobTypeRemediation,
		State:       domain.JobPending,
		Payload:     map[string]any{"target": target},
		Priority:    domain.DefaultPriority,
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.jobs.Save(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist remediation job: %w", err)
	}
	if err := o.queue.Enqueue(ctx, job.ID, delay); err != nil {
		return "", fmt.Errorf("failed to enqueue remediation job: %w", err)
	}
	metrics.JobsCreated.WithLabelValues(string(domain.JobTypeRemediation)).Inc()
	o.log.Info("Remediation job scheduled", "job", job.ID, "target", target, "delay", delay)
	return job.ID, nil
}
