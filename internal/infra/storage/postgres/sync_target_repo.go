package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opsforge/medic/internal/core/domain"
)

// SyncTargetRepo implements storage.SyncTargetRepository using PostgreSQL.
type SyncTargetRepo struct {
	db *DB
}

func NewSyncTargetRepo(db *DB) *SyncTargetRepo {
	return &SyncTargetRepo{db: db}
}

func (r *SyncTargetRepo) Save(ctx context.Context, target *domain.SyncTarget) error {
	query := `
		INSERT INTO sync_targets (name, repo_url, last_synced_at, last_error,
			consecutive_failures, drift_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			repo_url = EXCLUDED.repo_url,
			last_synced_at = EXCLUDED.last_synced_at,
			last_error = EXCLUDED.last_error,
			consecutive_failures = EXCLUDED.consecutive_failures,
			drift_score = EXCLUDED.drift_score,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		target.Name,
		target.RepoURL,
		target.LastSyncedAt,
		target.LastError,
		target.ConsecutiveFailures,
		target.DriftScore,
		target.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync target: %w", err)
	}
	return nil
}

func (r *SyncTargetRepo) Get(ctx context.Context, name string) (*domain.SyncTarget, error) {
	var target domain.SyncTarget
	query := `
		SELECT name, repo_url, last_synced_at, last_error,
			consecutive_failures, drift_score, updated_at
		FROM sync_targets WHERE name = $1
	`
	err := r.db.GetContext(ctx, &target, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync target: %w", err)
	}
	return &target, nil
}

func (r *SyncTargetRepo) GetAll(ctx context.Context) ([]*domain.SyncTarget, error) {
	var targets []*domain.SyncTarget
	query := `
		SELECT name, repo_url, last_synced_at, last_error,
			consecutive_failures, drift_score, updated_at
		FROM sync_targets ORDER BY name
	`
	if err := r.db.SelectContext(ctx, &targets, query); err != nil {
		return nil, fmt.Errorf("failed to list sync targets: %w", err)
	}
	return targets, nil
}
