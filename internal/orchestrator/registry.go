package orchestrator

import (
	"context"
	"fmt"

	"github.com/opsforge/medic/internal/core/domain"
)

// WorkFunc executes the business logic for one job type. The returned map
// becomes the job's result on success.
type WorkFunc func(ctx context.Context, job *domain.Job) (map[string]any, error)

// Registry maps job types to their work functions. A job type may also carry
// a degraded variant used as a last-resort execution path when remediation
// re-schedules an exhausted job.
type Registry struct {
	work     map[domain.JobType]WorkFunc
	degraded map[domain.JobType]WorkFunc
}

func NewRegistry() *Registry {
	return &Registry{
		work:     make(map[domain.JobType]WorkFunc),
		degraded: make(map[domain.JobType]WorkFunc),
	}
}

// Register binds a work function to a job type.
func (r *Registry) Register(t domain.JobType, fn WorkFunc) {
	r.work[t] = fn
}

// RegisterDegraded binds the degraded fallback variant for a job type.
func (r *Registry) RegisterDegraded(t domain.JobType, fn WorkFunc) {
	r.degraded[t] = fn
}

// Resolve returns the work function for a job. Jobs flagged degraded in
// their payload run the degraded variant when one exists.
func (r *Registry) Resolve(job *domain.Job) (WorkFunc, error) {
	if degraded, _ := job.Payload["degraded"].(bool); degraded {
		if fn, ok := r.degraded[job.Type]; ok {
			return fn, nil
		}
	}
	fn, ok := r.work[job.Type]
	if !ok {
		return nil, fmt.Errorf("no work function registered for job type %q", job.Type)
	}
	return fn, nil
}
