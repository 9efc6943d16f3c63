package domain

import "time"

// JobState represents the lifecycle state of a job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobHealing   JobState = "healing"
	JobEscalated JobState = "escalated"
	JobCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further automated transition may leave the state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobEscalated, JobCancelled:
		return true
	}
	return false
}

// JobType identifies the work function a job invokes. The set is closed:
// the orchestrator rejects creation of unknown types.
type JobType string

const (
	JobTypeRepoSync         JobType = "repo_sync"
	JobTypeConsistencyAudit JobType = "consistency_audit"
	JobTypeHealthProbe      JobType = "health_probe"
	JobTypeRemediation      JobType = "remediation"
)

// KnownJobTypes lists every registered job type.
var KnownJobTypes = []JobType{
	JobTypeRepoSync,
	JobTypeConsistencyAudit,
	JobTypeHealthProbe,
	JobTypeRemediation,
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, k := range KnownJobTypes {
		if t == k {
			return true
		}
	}
	return false
}

const (
	// DefaultPriority is the mid-range priority assigned when the caller
	// does not specify one. Lower values are dispatched first.
	DefaultPriority = 5

	// DefaultMaxAttempts bounds execution attempts before the job is handed
	// to the healing engine for classification.
	DefaultMaxAttempts = 3
)

// Job is a unit of schedulable, retryable work.
type Job struct {
	ID              string         `json:"id"              db:"id"`
	Type            JobType        `json:"type"            db:"type"`
	State           JobState       `json:"state"           db:"state"`
	Payload         map[string]any `json:"payload,omitempty"`
	Priority        int            `json:"priority"        db:"priority"`
	Attempts        int            `json:"attempts"        db:"attempts"`
	MaxAttempts     int            `json:"max_attempts"    db:"max_attempts"`
	HealingAttempts int            `json:"healing_attempts" db:"healing_attempts"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty" db:"error_msg"`
	CreatedAt       time.Time      `json:"created_at"      db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"      db:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	EscalatedAt     *time.Time     `json:"escalated_at,omitempty" db:"escalated_at"`
}

// jobTransitions is the full automated state machine. Cancellation is handled
// separately because it is caller-initiated and legal from any non-terminal,
// non-running state.
var jobTransitions = map[JobState][]JobState{
	JobPending: {JobRunning},
	JobRunning: {JobCompleted, JobHealing},
	JobHealing: {JobPending, JobFailed, JobEscalated},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to JobState) bool {
	if to == JobCancelled {
		return !from.IsTerminal() && from != JobRunning
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
