package postgres

import (
	"context"
	"fmt"

	"github.com/opsforge/medic/internal/core/domain"
)

// LearningRepo implements storage.LearningRepository using PostgreSQL.
type LearningRepo struct {
	db *DB
}

func NewLearningRepo(db *DB) *LearningRepo {
	return &LearningRepo{db: db}
}

func (r *LearningRepo) Add(ctx context.Context, learning *domain.Learning) error {
	query := `
		INSERT INTO learnings (id, issue_id, issue_type, action, outcome, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		learning.ID,
		learning.IssueID,
		string(learning.IssueType),
		string(learning.Action),
		string(learning.Outcome),
		learning.Notes,
		learning.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add learning: %w", err)
	}
	return nil
}

func (r *LearningRepo) List(ctx context.Context, limit int) ([]*domain.Learning, error) {
	query := `
		SELECT id, issue_id, issue_type, action, outcome, notes, created_at
		FROM learnings
		ORDER BY created_at DESC
		LIMIT CASE WHEN $1 > 0 THEN $1 ELSE NULL END
	`
	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	defer rows.Close()

	var learnings []*domain.Learning
	for rows.Next() {
		var (
			l                    domain.Learning
			typ, action, outcome string
		)
		if err := rows.Scan(&l.ID, &l.IssueID, &typ, &action, &outcome, &l.Notes, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		l.IssueType = domain.IssueType(typ)
		l.Action = domain.HealAction(action)
		l.Outcome = domain.LearningOutcome(outcome)
		learnings = append(learnings, &l)
	}
	return learnings, rows.Err()
}

// EscalationRepo implements storage.EscalationRepository using PostgreSQL.
type EscalationRepo struct {
	db *DB
}

func NewEscalationRepo(db *DB) *EscalationRepo {
	return &EscalationRepo{db: db}
}

func (r *EscalationRepo) Add(ctx context.Context, esc *domain.Escalation) error {
	query := `
		INSERT INTO escalations (id, issue_id, reason, upstream_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		esc.ID, esc.IssueID, esc.Reason, esc.UpstreamRef, esc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add escalation: %w", err)
	}
	return nil
}

func (r *EscalationRepo) List(ctx context.Context, limit int) ([]*domain.Escalation, error) {
	query := `
		SELECT id, issue_id, reason, upstream_ref, created_at
		FROM escalations
		ORDER BY created_at DESC
		LIMIT CASE WHEN $1 > 0 THEN $1 ELSE NULL END
	`
	var escalations []*domain.Escalation
	if err := r.db.SelectContext(ctx, &escalations, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	return escalations, nil
}
