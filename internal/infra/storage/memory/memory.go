package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/infra/storage"
)

// MemoryStorage backs every repository with mutex-guarded maps. Used when no
// database URL is configured, and by package tests.
type MemoryStorage struct {
	jobs        map[string]*domain.Job
	issues      map[string]*domain.Issue
	learnings   []*domain.Learning
	escalations []*domain.Escalation
	targets     map[string]*domain.SyncTarget
	kv          map[string]kvEntry
	mu          sync.RWMutex
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:    make(map[string]*domain.Job),
		issues:  make(map[string]*domain.Issue),
		targets: make(map[string]*domain.SyncTarget),
		kv:      make(map[string]kvEntry),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Save(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copy := *job
	r.store.jobs[job.ID] = &copy
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if j, ok := r.store.jobs[id]; ok {
		copy := *j
		return &copy, nil
	}
	return nil, domain.ErrNotFound
}

func (r *JobRepo) List(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var jobs []*domain.Job
	for _, j := range r.store.jobs {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		copy := *j
		jobs = append(jobs, &copy)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (r *JobRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.jobs, id)
	return nil
}

func (r *JobRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	removed := 0
	for id, j := range r.store.jobs {
		if j.State.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			delete(r.store.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// Issue Repository
// -----------------------------------------------------------------------------

type IssueRepo struct {
	store *MemoryStorage
}

func NewIssueRepo(store *MemoryStorage) *IssueRepo {
	return &IssueRepo{store: store}
}

func (r *IssueRepo) Save(ctx context.Context, issue *domain.Issue) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copy := *issue
	r.store.issues[issue.ID] = &copy
	return nil
}

func (r *IssueRepo) Get(ctx context.Context, id string) (*domain.Issue, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if is, ok := r.store.issues[id]; ok {
		copy := *is
		return &copy, nil
	}
	return nil, domain.ErrNotFound
}

func (r *IssueRepo) ListOpen(ctx context.Context) ([]*domain.Issue, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var open []*domain.Issue
	for _, is := range r.store.issues {
		if !is.Resolved && !is.Escalated {
			copy := *is
			open = append(open, &copy)
		}
	}
	sort.Slice(open, func(i, k int) bool {
		return open[i].CreatedAt.After(open[k].CreatedAt)
	})
	return open, nil
}

func (r *IssueRepo) CountOpen(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, is := range r.store.issues {
		if !is.Resolved {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Learning Repository (append-only)
// -----------------------------------------------------------------------------

type LearningRepo struct {
	store *MemoryStorage
}

func NewLearningRepo(store *MemoryStorage) *LearningRepo {
	return &LearningRepo{store: store}
}

func (r *LearningRepo) Add(ctx context.Context, learning *domain.Learning) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copy := *learning
	r.store.learnings = append(r.store.learnings, &copy)
	return nil
}

func (r *LearningRepo) List(ctx context.Context, limit int) ([]*domain.Learning, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Learning, 0, len(r.store.learnings))
	for i := len(r.store.learnings) - 1; i >= 0; i-- {
		copy := *r.store.learnings[i]
		out = append(out, &copy)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Escalation Repository (append-only)
// -----------------------------------------------------------------------------

type EscalationRepo struct {
	store *MemoryStorage
}

func NewEscalationRepo(store *MemoryStorage) *EscalationRepo {
	return &EscalationRepo{store: store}
}

func (r *EscalationRepo) Add(ctx context.Context, esc *domain.Escalation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copy := *esc
	r.store.escalations = append(r.store.escalations, &copy)
	return nil
}

func (r *EscalationRepo) List(ctx context.Context, limit int) ([]*domain.Escalation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Escalation, 0, len(r.store.escalations))
	for i := len(r.store.escalations) - 1; i >= 0; i-- {
		copy := *r.store.escalations[i]
		out = append(out, &copy)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Sync Target Repository
// -----------------------------------------------------------------------------

type SyncTargetRepo struct {
	store *MemoryStorage
}

func NewSyncTargetRepo(store *MemoryStorage) *SyncTargetRepo {
	return &SyncTargetRepo{store: store}
}

func (r *SyncTargetRepo) Save(ctx context.Context, target *domain.SyncTarget) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copy := *target
	r.store.targets[target.Name] = &copy
	return nil
}

func (r *SyncTargetRepo) Get(ctx context.Context, name string) (*domain.SyncTarget, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if t, ok := r.store.targets[name]; ok {
		copy := *t
		return &copy, nil
	}
	return nil, domain.ErrNotFound
}

func (r *SyncTargetRepo) GetAll(ctx context.Context) ([]*domain.SyncTarget, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.SyncTarget, 0, len(r.store.targets))
	for _, t := range r.store.targets {
		copy := *t
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// -----------------------------------------------------------------------------
// KV Store
// -----------------------------------------------------------------------------

type KVStore struct {
	store *MemoryStorage
}

func NewKVStore(store *MemoryStorage) *KVStore {
	return &KVStore{store: store}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	e, ok := s.store.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.store.kv[key] = e
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.kv, key)
	return nil
}

func (s *KVStore) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	now := time.Now()
	var entries []storage.Entry
	for k, e := range s.store.kv {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		entries = append(entries, storage.Entry{Key: k, Value: e.value})
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Key < entries[k].Key })
	return entries, nil
}
