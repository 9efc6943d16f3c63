package queue

import (
	"context"
	"time"
)

// Handler consumes one delivered job id. Returning an error counts against
// the message's delivery budget.
type Handler func(ctx context.Context, jobID string) error

// DeadLetterSink receives messages whose delivery budget is exhausted.
// The healing engine implements it.
type DeadLetterSink interface {
	ReportDeadLetter(ctx context.Context, jobID string, cause error)
}

// Queue delivers job ids at-least-once after an optional delay. Handlers
// must tolerate duplicate delivery.
type Queue interface {
	// Enqueue schedules a job id for delivery after the delay.
	Enqueue(ctx context.Context, jobID string, delay time.Duration) error

	// Run polls for due messages and delivers them to the handler until
	// the context is cancelled.
	Run(ctx context.Context, handler Handler) error

	// Close releases queue resources.
	Close() error
}

// Config holds delivery queue settings.
type Config struct {
	URL            string        `yaml:"url"`
	Password       string        `yaml:"password"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	DeliveryBudget int           `yaml:"delivery_budget"`
}

// Defaults fills unset fields with standard values.
func (c Config) Defaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.DeliveryBudget == 0 {
		c.DeliveryBudget = 5
	}
	return c
}
