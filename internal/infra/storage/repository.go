package storage

import (
	"context"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
)

// JobFilter narrows job listings. Zero values mean "no constraint".
type JobFilter struct {
	State domain.JobState
	Type  domain.JobType
	Limit int
}

// JobRepository persists job documents keyed by id. Every write is a
// full-document replace, giving last-writer-wins semantics.
type JobRepository interface {
	// Save stores or replaces a job.
	Save(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by id. Returns domain.ErrNotFound when missing.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// List retrieves jobs matching the filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)

	// Delete removes a job document. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteTerminalOlderThan removes terminal jobs not updated since the
	// cutoff. Returns the number removed.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// IssueRepository persists detected issues. Issues are mutated in place and
// never deleted; they are the audit trail.
type IssueRepository interface {
	// Save stores or replaces an issue.
	Save(ctx context.Context, issue *domain.Issue) error

	// Get retrieves an issue by id. Returns domain.ErrNotFound when missing.
	Get(ctx context.Context, id string) (*domain.Issue, error)

	// ListOpen retrieves unresolved, unescalated issues.
	ListOpen(ctx context.Context) ([]*domain.Issue, error)

	// CountOpen returns the number of unresolved issues.
	CountOpen(ctx context.Context) (int, error)
}

// LearningRepository is append-only.
type LearningRepository interface {
	// Add appends a learning record.
	Add(ctx context.Context, learning *domain.Learning) error

	// List retrieves the most recent learnings, newest first.
	List(ctx context.Context, limit int) ([]*domain.Learning, error)
}

// EscalationRepository is append-only.
type EscalationRepository interface {
	// Add appends an escalation record.
	Add(ctx context.Context, esc *domain.Escalation) error

	// List retrieves the most recent escalations, newest first.
	List(ctx context.Context, limit int) ([]*domain.Escalation, error)
}

// SyncTargetRepository tracks remote repository sync state keyed by name.
type SyncTargetRepository interface {
	// Save stores or replaces a sync target.
	Save(ctx context.Context, target *domain.SyncTarget) error

	// Get retrieves a target by name. Returns domain.ErrNotFound when missing.
	Get(ctx context.Context, name string) (*domain.SyncTarget, error)

	// GetAll retrieves every tracked target.
	GetAll(ctx context.Context) ([]*domain.SyncTarget, error)
}
