package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/healing"
	"github.com/opsforge/medic/internal/infra/storage"
	"github.com/opsforge/medic/internal/infra/upstream"
	"github.com/opsforge/medic/internal/orchestrator"
)

// RepoFetcher is the slice of the upstream client the work functions need.
type RepoFetcher interface {
	FetchRepo(ctx context.Context, name string) (*upstream.RepoInfo, error)
}

// HealthSink receives degradation reports from the health probe. The
// healing engine implements it.
type HealthSink interface {
	ReportHealthDegradation(ctx context.Context, degraded, total int)
}

// Tasks bundles the work function implementations behind the job types.
type Tasks struct {
	targets  storage.SyncTargetRepository
	upstream RepoFetcher
	drift    *healing.DriftTracker
	kv       storage.Store
	health   HealthSink
	log      *slog.Logger
}

func New(
	targets storage.SyncTargetRepository,
	up RepoFetcher,
	drift *healing.DriftTracker,
	kv storage.Store,
	health HealthSink,
	log *slog.Logger,
) *Tasks {
	return &Tasks{targets: targets, upstream: up, drift: drift, kv: kv, health: health, log: log}
}

// RegisterAll binds every work function, including degraded fallbacks.
func (t *Tasks) RegisterAll(reg *orchestrator.Registry) {
	reg.Register(domain.JobTypeRepoSync, t.RepoSync)
	reg.RegisterDegraded(domain.JobTypeRepoSync, t.RepoSyncDegraded)
	reg.Register(domain.JobTypeConsistencyAudit, t.ConsistencyAudit)
	reg.Register(domain.JobTypeHealthProbe, t.HealthProbe)
	reg.Register(domain.JobTypeRemediation, t.Remediation)
}

func targetName(job *domain.Job) (string, error) {
	name, _ := job.Payload["target"].(string)
	if name == "" {
		return "", fmt.Errorf("job %s has no target in payload", job.ID)
	}
	return name, nil
}

// ----------------------------------------------------------------------------
// repo_sync
// ----------------------------------------------------------------------------

// RepoSync pulls upstream metadata for one target and records the outcome
// on the target itself. Failures bump the target's consecutive failure
// count so the healing scan can pick persistent breakage up even when the
// job-level retries mask it.
func (t *Tasks) RepoSync(ctx context.Context, job *domain.Job) (map[string]any, error) {
	name, err := targetName(job)
	if err != nil {
		return nil, err
	}

	target, err := t.targets.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("unknown sync target %s: %w", name, err)
	}

	info, err := t.upstream.FetchRepo(ctx, name)
	if err != nil {
		target.ConsecutiveFailures++
		target.LastError = err.Error()
		target.UpdatedAt = time.Now()
		if saveErr := t.targets.Save(ctx, target); saveErr != nil {
			t.log.Error("Failed to record sync failure", "target", name, "error", saveErr)
		}
		return nil, fmt.Errorf("sync of %s failed: %w", name, err)
	}

	now := time.Now()
	target.LastSyncedAt = &now
	target.LastError = ""
	target.ConsecutiveFailures = 0
	target.UpdatedAt = now
	if err := t.targets.Save(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to persist sync state for %s: %w", name, err)
	}

	// Remember the observed head so the consistency audit has a baseline.
	if err := t.kv.Put(ctx, "sync:head:"+name, []byte(info.HeadSHA), 0); err != nil {
		t.log.Warn("Failed to record sync baseline", "target", name, "error", err)
	}

	return map[string]any{
		"target":   name,
		"head_sha": info.HeadSHA,
		"branch":   info.DefaultBranch,
	}, nil
}

// RepoSyncDegraded is the last-resort variant remediation schedules. It only
// verifies the target is reachable, without moving the sync baseline.
func (t *Tasks) RepoSyncDegraded(ctx context.Context, job *domain.Job) (map[string]any, error) {
	name, err := targetName(job)
	if err != nil {
		return nil, err
	}
	if _, err := t.upstream.FetchRepo(ctx, name); err != nil {
		return nil, fmt.Errorf("degraded sync of %s failed: %w", name, err)
	}
	t.log.Info("Degraded sync succeeded, baseline left untouched", "target", name)
	return map[string]any{"target": name, "degraded": true}, nil
}

// ----------------------------------------------------------------------------
// consistency_audit
// ----------------------------------------------------------------------------

// ConsistencyAudit compares the current upstream head against the recorded
// baseline for every target and feeds the divergence into the drift tracker.
// Matching heads clear the target's accumulated drift.
func (t *Tasks) ConsistencyAudit(ctx context.Context, job *domain.Job) (map[string]any, error) {
	targets, err := t.targets.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync targets: %w", err)
	}

	audited := 0
	drifting := 0
	for _, target := range targets {
		baseline, ok, err := t.kv.Get(ctx, "sync:head:"+target.Name)
		if err != nil {
			t.log.Error("Failed to read sync baseline", "target", target.Name, "error", err)
			continue
		}
		audited++
		if !ok {
			// Never synced; nothing to compare yet.
			continue
		}

		info, err := t.upstream.FetchRepo(ctx, target.Name)
		if err != nil {
			// Unreachable targets already surface through repo_sync.
			t.log.Warn("Audit skipped unreachable target", "target", target.Name, "error", err)
			continue
		}

		if info.HeadSHA == string(baseline) {
			if err := t.drift.Clear(ctx, target.Name); err != nil {
				t.log.Error("Failed to clear drift", "target", target.Name, "error", err)
			}
			continue
		}

		drifting++
		staleness := driftIncrement(target.LastSyncedAt)
		if _, err := t.drift.Record(ctx, target.Name, staleness); err != nil {
			t.log.Error("Failed to record drift", "target", target.Name, "error", err)
		}
	}

	return map[string]any{"audited": audited, "drifting": drifting}, nil
}

// driftIncrement weights divergence by how stale the last sync is. A target
// that diverged within the hour scores low; one dark for a day scores high
// enough to escalate on its own.
func driftIncrement(lastSynced *time.Time) float64 {
	if lastSynced == nil {
		return 50
	}
	age := time.Since(*lastSynced)
	switch {
	case age > 24*time.Hour:
		return 50
	case age > 6*time.Hour:
		return 25
	case age > time.Hour:
		return 10
	default:
		return 5
	}
}

// ----------------------------------------------------------------------------
// health_probe
// ----------------------------------------------------------------------------

// HealthProbe checks storage and counts targets in a degraded state. A
// probe that finds degraded targets reports a health degradation issue.
func (t *Tasks) HealthProbe(ctx context.Context, job *domain.Job) (map[string]any, error) {
	targets, err := t.targets.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage probe failed: %w", err)
	}

	degraded := 0
	for _, target := range targets {
		if target.ConsecutiveFailures > 0 {
			degraded++
		}
	}

	if degraded > 0 && t.health != nil {
		t.health.ReportHealthDegradation(ctx, degraded, len(targets))
	}

	return map[string]any{
		"targets":  len(targets),
		"degraded": degraded,
	}, nil
}

// ----------------------------------------------------------------------------
// remediation
// ----------------------------------------------------------------------------

// Remediation re-runs a sync for one target after the healing engine decided
// a fresh attempt is worth it. It runs the degraded path so a persistently
// broken baseline cannot corrupt the recorded state further.
func (t *Tasks) Remediation(ctx context.Context, job *domain.Job) (map[string]any, error) {
	return t.RepoSyncDegraded(ctx, job)
}
