package retry

import (
	"math"
	"time"
)

// Backoff computes retry delays for job dispatch. The orchestrator and the
// job-failure decision tree both consume this so their cadences agree.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the standard dispatch backoff.
// 2s, 4s, 8s, 16s ... capped at 60s.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base: 2 * time.Second,
		Max:  60 * time.Second,
	}
}

// NextDelay calculates the delay before the given attempt (1-indexed):
// Base * 2^(attempt-1), capped at Max.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another execution attempt is allowed.
func ShouldRetry(attempts, maxAttempts int) bool {
	return attempts < maxAttempts
}
