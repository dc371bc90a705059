package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// DeadLetterRepository keeps abandoned delivery jobs for inspection.
type DeadLetterRepository struct {
	base baseMemoryRepo[domain.DeadLetter]
}

var _ store.DeadLetterRepository = (*DeadLetterRepository)(nil)

func NewDeadLetterRepository() *DeadLetterRepository {
	return &DeadLetterRepository{
		base: newBaseMemoryRepo[domain.DeadLetter]("dead_letter", func(d *domain.DeadLetter) *domain.RecordMeta { return &d.RecordMeta }),
	}
}

func (r *DeadLetterRepository) Create(ctx context.Context, dl *domain.DeadLetter) error {
	return r.base.create(ctx, dl)
}

func (r *DeadLetterRepository) Update(ctx context.Context, dl *domain.DeadLetter) error {
	return r.base.update(ctx, dl)
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	return r.base.getByID(ctx, id, false)
}

func (r *DeadLetterRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.DeadLetter], error) {
	return r.base.list(ctx, opts)
}

func (r *DeadLetterRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.base.softDelete(ctx, id)
}

func (r *DeadLetterRepository) ListByIdentity(ctx context.Context, identity string, opts store.ListOptions) (store.ListResult[domain.DeadLetter], error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	var filtered []domain.DeadLetter
	for _, record := range r.base.records {
		if record.Identity == identity {
			filtered = append(filtered, record)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	total := len(filtered)
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return store.ListResult[domain.DeadLetter]{Items: filtered, Total: total}, nil
}
