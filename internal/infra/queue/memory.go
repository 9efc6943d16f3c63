package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opsforge/medic/internal/observe/metrics"
)

// MemoryQueue is the in-process counterpart of RedisQueue. Used when no
// queue URL is configured, and by package tests.
type MemoryQueue struct {
	cfg        Config
	sink       DeadLetterSink
	log        *slog.Logger
	mu         sync.Mutex
	items      []memoryItem
	deliveries map[string]int
	dead       []string
}

type memoryItem struct {
	jobID   string
	readyAt time.Time
}

func NewMemoryQueue(cfg Config, sink DeadLetterSink, log *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		cfg:        cfg.Defaults(),
		sink:       sink,
		log:        log,
		deliveries: make(map[string]int),
	}
}

func (q *MemoryQueue) Close() error { return nil }

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, memoryItem{jobID: jobID, readyAt: time.Now().Add(delay)})
	sort.Slice(q.items, func(i, k int) bool {
		return q.items[i].readyAt.Before(q.items[k].readyAt)
	})
	return nil
}

func (q *MemoryQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].readyAt.After(time.Now()) {
		return "", false
	}
	jobID := q.items[0].jobID
	q.items = q.items[1:]
	return jobID, true
}

func (q *MemoryQueue) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for {
			jobID, found := q.pop()
			if !found {
				break
			}
			if err := handler(ctx, jobID); err != nil {
				q.handleFailure(ctx, jobID, err)
			} else {
				q.mu.Lock()
				delete(q.deliveries, jobID)
				q.mu.Unlock()
			}
		}
	}
}

func (q *MemoryQueue) handleFailure(ctx context.Context, jobID string, cause error) {
	q.mu.Lock()
	q.deliveries[jobID]++
	count := q.deliveries[jobID]
	exhausted := count >= q.cfg.DeliveryBudget
	if exhausted {
		q.dead = append(q.dead, jobID)
		delete(q.deliveries, jobID)
	}
	q.mu.Unlock()

	if !exhausted {
		q.log.Warn("delivery failed, re-scheduling",
			"job_id", jobID, "deliveries", count, "error", cause)
		_ = q.Enqueue(ctx, jobID, q.cfg.RetryDelay)
		return
	}

	q.log.Error("delivery budget exhausted, dead-lettering",
		"job_id", jobID, "deliveries", count, "error", cause)
	metrics.QueueDeadLetters.Inc()
	if q.sink != nil {
		q.sink.ReportDeadLetter(ctx, jobID, cause)
	}
}

// DeadLetters returns the ids parked on the dead-letter list.
func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.dead))
	copy(out, q.dead)
	return out, nil
}

// Pending returns the number of scheduled messages. Test helper.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
