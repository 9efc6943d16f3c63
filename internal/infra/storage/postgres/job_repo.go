package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL. Payload and
// result maps live in JSONB columns.
type JobRepo struct {
	db *DB
}

func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Save(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	result, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := `
		INSERT INTO jobs (id, type, state, payload, priority, attempts, max_attempts,
			healing_attempts, result, error_msg, created_at, updated_at,
			started_at, completed_at, escalated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			payload = EXCLUDED.payload,
			attempts = EXCLUDED.attempts,
			healing_attempts = EXCLUDED.healing_attempts,
			result = EXCLUDED.result,
			error_msg = EXCLUDED.error_msg,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			escalated_at = EXCLUDED.escalated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		string(job.Type),
		string(job.State),
		payload,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.HealingAttempts,
		result,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.EscalatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		SELECT id, type, state, payload, priority, attempts, max_attempts,
			healing_attempts, result, error_msg, created_at, updated_at,
			started_at, completed_at, escalated_at
		FROM jobs WHERE id = $1
	`
	row := r.db.QueryRowxContext(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *JobRepo) List(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	query := `
		SELECT id, type, state, payload, priority, attempts, max_attempts,
			healing_attempts, result, error_msg, created_at, updated_at,
			started_at, completed_at, escalated_at
		FROM jobs
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT CASE WHEN $3 > 0 THEN $3 ELSE NULL END
	`
	rows, err := r.db.QueryxContext(ctx, query,
		string(filter.State), string(filter.Type), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (r *JobRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE state IN ('completed', 'failed', 'escalated', 'cancelled')
		  AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// scanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job             domain.Job
		typ, state      string
		payload, result []byte
	)
	err := row.Scan(
		&job.ID, &typ, &state, &payload, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &job.HealingAttempts,
		&result, &job.Error, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.CompletedAt, &job.EscalatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(typ)
	job.State = domain.JobState(state)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload for job %s: %w", job.ID, err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("corrupt result for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
