package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/opsforge/medic/internal/core/config"
	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/healing"
	"github.com/opsforge/medic/internal/infra/queue"
	"github.com/opsforge/medic/internal/infra/storage"
	"github.com/opsforge/medic/internal/infra/storage/memory"
	"github.com/opsforge/medic/internal/infra/storage/postgres"
	"github.com/opsforge/medic/internal/infra/upstream"
	"github.com/opsforge/medic/internal/observe/api"
	"github.com/opsforge/medic/internal/orchestrator"
	"github.com/opsforge/medic/internal/retry"
	"github.com/opsforge/medic/internal/scheduler"
	"github.com/opsforge/medic/internal/tasks"
)

// App wires the orchestrator, healing engine, queue, scheduler and API
// server together and manages their lifecycle.
type App struct {
	cfg    *config.AppConfig
	orch   *orchestrator.Orchestrator
	engine *healing.Engine
	sched  *scheduler.Scheduler
	queue  queue.Queue
	server *api.Server
	jobs   storage.JobRepository
	db     *postgres.DB
	log    *slog.Logger
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	// 1. Storage
	var (
		jobRepo        storage.JobRepository
		issueRepo      storage.IssueRepository
		learningRepo   storage.LearningRepository
		escalationRepo storage.EscalationRepository
		targetRepo     storage.SyncTargetRepository
		kv             storage.Store
		db             *postgres.DB
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		jobRepo = postgres.NewJobRepo(db)
		issueRepo = postgres.NewIssueRepo(db)
		learningRepo = postgres.NewLearningRepo(db)
		escalationRepo = postgres.NewEscalationRepo(db)
		targetRepo = postgres.NewSyncTargetRepo(db)
		kv = postgres.NewKVStore(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		jobRepo = memory.NewJobRepo(store)
		issueRepo = memory.NewIssueRepo(store)
		learningRepo = memory.NewLearningRepo(store)
		escalationRepo = memory.NewEscalationRepo(store)
		targetRepo = memory.NewSyncTargetRepo(store)
		kv = memory.NewKVStore(store)
		log.Info("Using Memory storage")
	}

	// 2. Seed configured sync targets
	for _, t := range cfg.Targets {
		if _, err := targetRepo.Get(context.Background(), t.Name); err == nil {
			continue // already tracked
		}
		target := &domain.SyncTarget{
			Name:      t.Name,
			RepoURL:   t.RepoURL,
			UpdatedAt: time.Now(),
		}
		if err := targetRepo.Save(context.Background(), target); err != nil {
			return nil, fmt.Errorf("failed to seed sync target %s: %w", t.Name, err)
		}
	}

	// 3. Healing engine
	backoff := retry.DefaultBackoff()
	drift := healing.NewDriftTracker(kv)
	up := upstream.NewClient(cfg.Upstream, log)
	engine := healing.NewEngine(
		healing.Config{StaleAfter: cfg.Healing.StaleAfter},
		healing.Deps{
			Issues:      issueRepo,
			Learnings:   learningRepo,
			Escalations: escalationRepo,
			Jobs:        jobRepo,
			Targets:     targetRepo,
			Drift:       drift,
			Trees:       healing.StandardTrees(backoff),
			Notifier:    up,
		},
	)

	// 4. Delivery queue (Redis when configured, memory otherwise)
	var q queue.Queue
	if cfg.Queue.URL != "" {
		rq, err := queue.NewRedisQueue(cfg.Queue, engine, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init queue: %w", err)
		}
		q = rq
		log.Info("Using Redis delivery queue")
	} else {
		q = queue.NewMemoryQueue(cfg.Queue, engine, log)
		log.Info("Using Memory delivery queue")
	}

	// 5. Orchestrator and work functions
	registry := orchestrator.NewRegistry()
	tasks.New(targetRepo, up, drift, kv, engine, log).RegisterAll(registry)

	orch := orchestrator.New(jobRepo, q, registry, backoff)
	orch.SetHealer(engine)
	engine.AttachController(orch)

	// 6. Scheduler
	sched := scheduler.New(engine, log)
	addSchedules(sched, cfg, orch, engine, jobRepo, log)

	// 7. API server
	server := api.NewServer(cfg.Server.Port, orch, engine, sched, issueRepo, learningRepo, log)

	return &App{
		cfg:    cfg,
		orch:   orch,
		engine: engine,
		sched:  sched,
		queue:  q,
		server: server,
		jobs:   jobRepo,
		db:     db,
		log:    log,
	}, nil
}

// addSchedules registers the recurring tasks. Job-producing tasks go through
// the orchestrator so their failures enter the normal healing path.
func addSchedules(
	sched *scheduler.Scheduler,
	cfg *config.AppConfig,
	orch *orchestrator.Orchestrator,
	engine *healing.Engine,
	jobs storage.JobRepository,
	log *slog.Logger,
) {
	sched.Add("repo-sync", cfg.Tasks.SyncInterval, func(ctx context.Context) error {
		for _, t := range cfg.Targets {
			payload := map[string]any{"target": t.Name}
			if _, err := orch.Create(ctx, domain.JobTypeRepoSync, payload, orchestrator.CreateOptions{}); err != nil {
				return fmt.Errorf("failed to create sync job for %s: %w", t.Name, err)
			}
		}
		return nil
	})

	sched.Add("consistency-audit", cfg.Tasks.AuditInterval, func(ctx context.Context) error {
		_, err := orch.Create(ctx, domain.JobTypeConsistencyAudit, nil, orchestrator.CreateOptions{})
		return err
	})

	sched.Add("health-probe", cfg.Tasks.ProbeInterval, func(ctx context.Context) error {
		_, err := orch.Create(ctx, domain.JobTypeHealthProbe, nil, orchestrator.CreateOptions{})
		return err
	})

	sched.Add("healing-scan", cfg.Healing.ScanInterval, func(ctx context.Context) error {
		_, err := engine.Scan(ctx)
		return err
	})

	if cfg.Tasks.RetentionPeriod > 0 {
		sched.Add("janitor", cfg.Tasks.RetentionCadence, func(ctx context.Context) error {
			cutoff := time.Now().Add(-cfg.Tasks.RetentionPeriod)
			removed, err := jobs.DeleteTerminalOlderThan(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("retention sweep failed: %w", err)
			}
			if removed > 0 {
				log.Info("Retention sweep removed terminal jobs", "count", removed)
			}
			return nil
		})
	}
}

// Start launches every component. Blocks only for startup, not for runtime.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("API server failed", "error", err)
		}
	}()

	go func() {
		if err := a.queue.Run(ctx, a.orch.Dispatch); err != nil && ctx.Err() == nil {
			a.log.Error("Queue consumer failed", "error", err)
		}
	}()

	go a.sched.Start(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.log.Info("medic started", "port", a.cfg.Server.Port, "targets", len(a.cfg.Targets))
	return nil
}

// Stop shuts the application down.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping medic...")

	if err := a.queue.Close(); err != nil {
		a.log.Warn("Failed to close queue", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return a.server.Stop(ctx)
}

// Orchestrator exposes the job orchestrator, for the CLI status command.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}
