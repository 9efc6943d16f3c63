package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskFailureSink receives scheduled-task failure reports with the current
// consecutive failure count. The healing engine implements it.
type TaskFailureSink interface {
	ReportTaskFailure(ctx context.Context, taskName string, consecutive int, cause error)
}

// TaskFunc is one scheduled unit of work.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	mu          sync.Mutex
	consecutive int
	lastRun     time.Time
	lastError   string
}

// Scheduler runs named tasks on fixed intervals. Every task tracks its own
// consecutive failure count; each failure is reported to the sink so the
// healing engine can decide between learning and escalating.
type Scheduler struct {
	sink  TaskFailureSink
	log   *slog.Logger
	mu    sync.Mutex
	tasks map[string]*task
	order []string
}

func New(sink TaskFailureSink, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sink:  sink,
		log:   log,
		tasks: make(map[string]*task),
	}
}

// Add registers a named task. Names must be unique.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
	s.order = append(s.order, name)
}

// Start launches one ticker loop per task and blocks until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	if t.interval <= 0 {
		return // disabled
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	t.mu.Lock()
	t.lastRun = time.Now()
	t.mu.Unlock()

	err := t.fn(ctx)

	t.mu.Lock()
	if err != nil {
		t.consecutive++
		t.lastError = err.Error()
	} else {
		t.consecutive = 0
		t.lastError = ""
	}
	consecutive := t.consecutive
	t.mu.Unlock()

	if err == nil {
		return
	}

	s.log.Error("Scheduled task failed",
		"task", t.name, "consecutive", consecutive, "error", err)
	if s.sink != nil {
		s.sink.ReportTaskFailure(ctx, t.name, consecutive, err)
	}
}

// Trigger runs a task by name immediately, outside its schedule. Failures
// count against the task's consecutive failure streak like scheduled runs.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	s.runOnce(ctx, t)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastError != "" {
		return fmt.Errorf("task %s failed: %s", name, t.lastError)
	}
	return nil
}

// TaskStatus is a point-in-time snapshot of one task.
type TaskStatus struct {
	Name                string    `json:"name"`
	Interval            string    `json:"interval"`
	LastRun             time.Time `json:"last_run"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Status lists every task in registration order.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.order))
	for _, name := range s.order {
		t := s.tasks[name]
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:                t.name,
			Interval:            t.interval.String(),
			LastRun:             t.lastRun,
			ConsecutiveFailures: t.consecutive,
			LastError:           t.lastError,
		})
		t.mu.Unlock()
	}
	return out
}
