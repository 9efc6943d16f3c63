package domain

import "time"

// HealAction is the closed set of remediation actions a decision tree
// may yield. Every executor must handle each member exhaustively.
type HealAction string

const (
	ActionRetry    HealAction = "RETRY"
	ActionSkip     HealAction = "SKIP"
	ActionEscalate HealAction = "ESCALATE"
	ActionLearn    HealAction = "LEARN"
	ActionNotify   HealAction = "NOTIFY"
	ActionReset    HealAction = "RESET"
)

// LearningOutcome labels what an issue's handling ultimately produced.
type LearningOutcome string

const (
	OutcomeResolved  LearningOutcome = "resolved"
	OutcomeSkipped   LearningOutcome = "skipped"
	OutcomeEscalated LearningOutcome = "escalated"
	OutcomeLearned   LearningOutcome = "learned"
)

// Learning is an immutable record of what happened to an issue and what was
// done about it. Learnings feed per-issue-type success-rate aggregation and
// are only ever appended, never mutated.
type Learning struct {
	ID        string          `json:"id"         db:"id"`
	IssueID   string          `json:"issue_id"   db:"issue_id"`
	IssueType IssueType       `json:"issue_type" db:"issue_type"`
	Action    HealAction      `json:"action"     db:"action"`
	Outcome   LearningOutcome `json:"outcome"    db:"outcome"`
	Notes     string          `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Escalation records an issue handed off to humans. Escalated issues are
// terminal for automated handling.
type Escalation struct {
	ID          string    `json:"id"           db:"id"`
	IssueID     string    `json:"issue_id"     db:"issue_id"`
	Reason      string    `json:"reason"       db:"reason"`
	UpstreamRef string    `json:"upstream_ref,omitempty" db:"upstream_ref"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}
