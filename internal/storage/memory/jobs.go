package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// DeliveryJobRepository keeps push delivery jobs in process memory with a
// dedup index on (identity, topic, sequence).
type DeliveryJobRepository struct {
	base  baseMemoryRepo[domain.DeliveryJob]
	dedup map[string]uuid.UUID
}

var _ store.DeliveryJobRepository = (*DeliveryJobRepository)(nil)

func NewDeliveryJobRepository() *DeliveryJobRepository {
	return &DeliveryJobRepository{
		base:  newBaseMemoryRepo[domain.DeliveryJob]("delivery_job", func(j *domain.DeliveryJob) *domain.RecordMeta { return &j.RecordMeta }),
		dedup: make(map[string]uuid.UUID),
	}
}

func (r *DeliveryJobRepository) Create(ctx context.Context, job *domain.DeliveryJob) error {
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	if err := r.base.createLocked(job); err != nil {
		return err
	}
	r.dedup[job.DedupKey()] = job.ID
	return nil
}

func (r *DeliveryJobRepository) CreateDedup(ctx context.Context, job *domain.DeliveryJob) (bool, error) {
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	if _, exists := r.dedup[job.DedupKey()]; exists {
		return false, nil
	}
	if err := r.base.createLocked(job); err != nil {
		return false, err
	}
	r.dedup[job.DedupKey()] = job.ID
	return true, nil
}

func (r *DeliveryJobRepository) Update(ctx context.Context, job *domain.DeliveryJob) error {
	return r.base.update(ctx, job)
}

func (r *DeliveryJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryJob, error) {
	return r.base.getByID(ctx, id, false)
}

func (r *DeliveryJobRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.DeliveryJob], error) {
	return r.base.list(ctx, opts)
}

func (r *DeliveryJobRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.base.softDelete(ctx, id)
}

func (r *DeliveryJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	var due []domain.DeliveryJob
	for _, job := range r.base.records {
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if job.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *DeliveryJobRepository) ListQueuedByIdentity(ctx context.Context, identity string, now time.Time) ([]domain.DeliveryJob, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	var out []domain.DeliveryJob
	for _, job := range r.base.records {
		if job.Identity != identity || job.Status != domain.JobStatusQueued {
			continue
		}
		if job.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
