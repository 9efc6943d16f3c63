package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opsforge/medic/internal/core/domain"
)

// IssueRepo implements storage.IssueRepository using PostgreSQL.
type IssueRepo struct {
	db *DB
}

func NewIssueRepo(db *DB) *IssueRepo {
	return &IssueRepo{db: db}
}

func (r *IssueRepo) Save(ctx context.Context, issue *domain.Issue) error {
	ictx, err := json.Marshal(issue.Context)
	if err != nil {
		return fmt.Errorf("failed to encode issue context: %w", err)
	}

	query := `
		INSERT INTO issues (id, type, severity, context, resolved, escalated,
			resolution, retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			context = EXCLUDED.context,
			resolved = EXCLUDED.resolved,
			escalated = EXCLUDED.escalated,
			resolution = EXCLUDED.resolution,
			retry_at = EXCLUDED.retry_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		issue.ID,
		string(issue.Type),
		issue.Severity.String(),
		ictx,
		issue.Resolved,
		issue.Escalated,
		issue.Resolution,
		issue.RetryAt,
		issue.CreatedAt,
		issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return nil
}

func (r *IssueRepo) Get(ctx context.Context, id string) (*domain.Issue, error) {
	row := r.db.QueryRowxContext(ctx, issueSelect+` WHERE id = $1`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

func (r *IssueRepo) ListOpen(ctx context.Context) ([]*domain.Issue, error) {
	query := issueSelect + ` WHERE NOT resolved AND NOT escalated ORDER BY created_at DESC`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list open issues: %w", err)
	}
	defer rows.Close()

	var issues []*domain.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (r *IssueRepo) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM issues WHERE NOT resolved`)
	if err != nil {
		return 0, fmt.Errorf("failed to count open issues: %w", err)
	}
	return count, nil
}

const issueSelect = `
	SELECT id, type, severity, context, resolved, escalated,
		resolution, retry_at, created_at, updated_at
	FROM issues`

func scanIssue(row scanner) (*domain.Issue, error) {
	var (
		issue         domain.Issue
		typ, severity string
		ictx          []byte
	)
	err := row.Scan(
		&issue.ID, &typ, &severity, &ictx, &issue.Resolved, &issue.Escalated,
		&issue.Resolution, &issue.RetryAt, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	issue.Type = domain.IssueType(typ)
	issue.Severity = domain.ParseSeverity(severity)
	if len(ictx) > 0 {
		if err := json.Unmarshal(ictx, &issue.Context); err != nil {
			return nil, fmt.Errorf("corrupt context for issue %s: %w", issue.ID, err)
		}
	}
	return &issue, nil
}
