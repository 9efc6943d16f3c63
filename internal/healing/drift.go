package healing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsforge/medic/internal/infra/storage"
)

const driftKeyPrefix = "drift:"

// DriftTracker accumulates consistency-drift scores per sync target in the
// durable KV store. The consistency audit records deltas; the healing scan
// reads them back and the RESET action clears them.
type DriftTracker struct {
	kv storage.Store
}

func NewDriftTracker(kv storage.Store) *DriftTracker {
	return &DriftTracker{kv: kv}
}

// Record adds delta to the target's accumulated score and returns the new value.
func (t *DriftTracker) Record(ctx context.Context, target string, delta float64) (float64, error) {
	score, err := t.Get(ctx, target)
	if err != nil {
		return 0, err
	}
	score += delta
	if score < 0 {
		score = 0
	}
	key := driftKeyPrefix + target
	val := strconv.FormatFloat(score, 'f', -1, 64)
	if err := t.kv.Put(ctx, key, []byte(val), 0); err != nil {
		return 0, fmt.Errorf("failed to record drift for %s: %w", target, err)
	}
	return score, nil
}

// Get returns the accumulated score for a target, zero when absent.
func (t *DriftTracker) Get(ctx context.Context, target string) (float64, error) {
	raw, ok, err := t.kv.Get(ctx, driftKeyPrefix+target)
	if err != nil {
		return 0, fmt.Errorf("failed to read drift for %s: %w", target, err)
	}
	if !ok {
		return 0, nil
	}
	score, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt drift value for %s: %w", target, err)
	}
	return score, nil
}

// Clear removes the accumulated score for a target.
func (t *DriftTracker) Clear(ctx context.Context, target string) error {
	return t.kv.Delete(ctx, driftKeyPrefix+target)
}

// All returns every target with a non-zero accumulated score.
func (t *DriftTracker) All(ctx context.Context) (map[string]float64, error) {
	entries, err := t.kv.List(ctx, driftKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift signals: %w", err)
	}
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		score, err := strconv.ParseFloat(string(e.Value), 64)
		if err != nil {
			continue
		}
		if score > 0 {
			scores[strings.TrimPrefix(e.Key, driftKeyPrefix)] = score
		}
	}
	return scores, nil
}
