package bunrepo

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// DeliveryJobRepository persists push delivery jobs. The unique index on
// (identity, topic, sequence) enforces dedup at the database level.
type DeliveryJobRepository struct {
	base baseRepository[domain.DeliveryJob]
}

var _ store.DeliveryJobRepository = (*DeliveryJobRepository)(nil)

func NewDeliveryJobRepository(db *bun.DB) *DeliveryJobRepository {
	handlers := repository.ModelHandlers[*domain.DeliveryJob]{
		NewRecord:          func() *domain.DeliveryJob { return &domain.DeliveryJob{} },
		GetID:              func(j *domain.DeliveryJob) uuid.UUID { return j.ID },
		SetID:              func(j *domain.DeliveryJob, id uuid.UUID) { j.ID = id },
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: func(j *domain.DeliveryJob) string { return j.ID.String() },
	}
	return &DeliveryJobRepository{
		base: newBaseRepository[domain.DeliveryJob](db, handlers, func(j *domain.DeliveryJob) *domain.RecordMeta { return &j.RecordMeta }),
	}
}

func (r *DeliveryJobRepository) Create(ctx context.Context, job *domain.DeliveryJob) error {
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	return r.base.create(ctx, job)
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

func (r *DeliveryJobRepository) CreateDedup(ctx context.Context, job *domain.DeliveryJob) (bool, error) {
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	job.EnsureID()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	res, err := r.base.db.NewInsert().
		Model(job).
		On("CONFLICT (identity, topic, sequence) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *DeliveryJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	records, _, err := r.base.repo.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("status = ?", domain.JobStatusQueued).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Order("next_attempt_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]domain.DeliveryJob, len(records))
	for i, rec := range records {
		items[i] = *rec
	}
	return items, nil
}

func (r *DeliveryJobRepository) ListQueuedByIdentity(ctx context.Context, identity string, now time.Time) ([]domain.DeliveryJob, error) {
	records, _, err := r.base.repo.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("identity = ?", identity).
			Where("status = ?", domain.JobStatusQueued).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Order("sequence ASC")
	})
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]domain.DeliveryJob, len(records))
	for i, rec := range records {
		items[i] = *rec
	}
	return items, nil
}
