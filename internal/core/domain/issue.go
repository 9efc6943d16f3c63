package domain

import "time"

// IssueType is the fixed taxonomy of detectable abnormal conditions.
type IssueType string

const (
	IssueJobFailure        IssueType = "job_failure"
	IssueTaskFailure       IssueType = "scheduled_task_failure"
	IssueSyncFailure       IssueType = "sync_failure"
	IssueDeadLetter        IssueType = "dead_letter"
	IssueHealthDegradation IssueType = "health_degradation"
	IssueConsistencyDrift  IssueType = "consistency_drift"
	IssueRateLimited       IssueType = "rate_limited"
	IssueUpstreamError     IssueType = "upstream_error"
)

// Severity orders issues from low to critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// ParseSeverity maps a stored label back to its ordered value.
func ParseSeverity(s string) Severity {
	switch s {
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	}
	return SeverityLow
}

// IssueContext carries the facts decision-tree predicates match against.
// Fields are zero-valued when not applicable to the issue type.
type IssueContext struct {
	JobID               string  `json:"job_id,omitempty"`
	JobType             JobType `json:"job_type,omitempty"`
	TaskName            string  `json:"task_name,omitempty"`
	Target              string  `json:"target,omitempty"`
	Attempts            int     `json:"attempts,omitempty"`
	MaxAttempts         int     `json:"max_attempts,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures,omitempty"`
	ErrorText           string  `json:"error_text,omitempty"`
	DriftScore          float64 `json:"drift_score,omitempty"`
}

// Issue is a detected abnormal condition routed through the healing engine.
// Issues are never deleted; they form the audit trail.
type Issue struct {
	ID         string       `json:"id"         db:"id"`
	Type       IssueType    `json:"type"       db:"type"`
	Severity   Severity     `json:"severity"`
	Context    IssueContext `json:"context"`
	Resolved   bool         `json:"resolved"   db:"resolved"`
	Escalated  bool         `json:"escalated"  db:"escalated"`
	Resolution string       `json:"resolution,omitempty" db:"resolution"`
	RetryAt    *time.Time   `json:"retry_at,omitempty"   db:"retry_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}
