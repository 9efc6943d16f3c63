package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsforge/medic/internal/observe/metrics"
)

// RedisQueue schedules job ids on a sorted set scored by ready time. Due
// members are popped in score order, so delayed retries and immediate work
// share one structure.
type RedisQueue struct {
	rdb  *redis.Client
	cfg  Config
	sink DeadLetterSink
	log  *slog.Logger
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(cfg Config, sink DeadLetterSink, log *slog.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{rdb: rdb, cfg: cfg.Defaults(), sink: sink, log: log}, nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

// Key helpers
func readyKey() string {
	return "medic:queue:ready"
}

func deliveriesKey() string {
	return "medic:queue:deliveries"
}

func deadLetterKey() string {
	return "medic:queue:dead"
}

// Enqueue schedules a job id. A zero delay makes it due immediately.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, readyKey(), redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// pop removes and returns the oldest due job id, if any.
func (q *RedisQueue) pop(ctx context.Context) (jobID string, found bool, err error) {
	now := float64(time.Now().UnixMilli())

	results, err := q.rdb.ZRangeByScore(ctx, readyKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 1,
	}).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(results) == 0 {
		return "", false, nil
	}

	member := results[0]
	removed, err := q.rdb.ZRem(ctx, readyKey(), member).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrem failed: %w", err)
	}
	if removed == 0 {
		// Another consumer claimed it first.
		return "", false, nil
	}

	return member, true, nil
}

// Run delivers due job ids to the handler until the context is cancelled.
// Handler failures re-schedule the message with the retry delay; once the
// delivery budget is spent the id moves to the dead-letter list and the
// sink is informed.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Drain everything currently due before sleeping again.
		for {
			jobID, found, err := q.pop(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				q.log.Error("queue pop failed", "error", err)
				break
			}
			if !found {
				break
			}

			if err := handler(ctx, jobID); err != nil {
				q.handleFailure(ctx, jobID, err)
			} else {
				q.rdb.HDel(ctx, deliveriesKey(), jobID)
			}
		}
	}
}

func (q *RedisQueue) handleFailure(ctx context.Context, jobID string, cause error) {
	count, err := q.rdb.HIncrBy(ctx, deliveriesKey(), jobID, 1).Result()
	if err != nil {
		q.log.Error("delivery count update failed", "job_id", jobID, "error", err)
		count = int64(q.cfg.DeliveryBudget) // fail safe toward dead-lettering
	}

	if count < int64(q.cfg.DeliveryBudget) {
		q.log.Warn("delivery failed, re-scheduling",
			"job_id", jobID, "deliveries", count, "error", cause)
		if err := q.Enqueue(ctx, jobID, q.cfg.RetryDelay); err != nil {
			q.log.Error("re-schedule failed", "job_id", jobID, "error", err)
		}
		return
	}

	q.log.Error("delivery budget exhausted, dead-lettering",
		"job_id", jobID, "deliveries", count, "error", cause)
	if err := q.rdb.LPush(ctx, deadLetterKey(), jobID).Err(); err != nil {
		q.log.Error("dead-letter push failed", "job_id", jobID, "error", err)
	}
	q.rdb.HDel(ctx, deliveriesKey(), jobID)
	metrics.QueueDeadLetters.Inc()
	if q.sink != nil {
		q.sink.ReportDeadLetter(ctx, jobID, cause)
	}
}

// DeadLetters returns the ids currently parked on the dead-letter list.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.rdb.LRange(ctx, deadLetterKey(), 0, -1).Result()
}
