package retry

import (
	"testing"
	"time"
)

func TestBackoff_NextDelay(t *testing.T) {
	b := &Backoff{Base: 1 * time.Second, Max: 10 * time.Second}

	// Attempt 1: base
	if d := b.NextDelay(1); d != 1*time.Second {
		t.Errorf("expected 1s, got %v", d)
	}

	// Attempt 2: 2*base
	if d := b.NextDelay(2); d != 2*time.Second {
		t.Errorf("expected 2s, got %v", d)
	}

	// Attempt 3: 4*base
	if d := b.NextDelay(3); d != 4*time.Second {
		t.Errorf("expected 4s, got %v", d)
	}

	// Attempt 10: cap at Max (10s)
	if d := b.NextDelay(10); d != 10*time.Second {
		t.Errorf("expected 10s, got %v", d)
	}

	// Attempt 0 is clamped to 1
	if d := b.NextDelay(0); d != 1*time.Second {
		t.Errorf("expected 1s for clamped attempt, got %v", d)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := DefaultBackoff()
	if d := b.NextDelay(1); d != 2*time.Second {
		t.Errorf("expected 2s, got %v", d)
	}
	if d := b.NextDelay(6); d != 60*time.Second {
		t.Errorf("expected 60s cap, got %v", d)
	}
}

func TestShouldRetry(t *testing.T) {
	if !ShouldRetry(0, 3) {
		t.Error("should retry with 0/3 attempts")
	}
	if !ShouldRetry(2, 3) {
		t.Error("should retry with 2/3 attempts")
	}
	if ShouldRetry(3, 3) {
		t.Error("should NOT retry with 3/3 attempts")
	}
}
