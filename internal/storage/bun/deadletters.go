package bunrepo

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

type DeadLetterRepository struct {
	base baseRepository[domain.DeadLetter]
}

var _ store.DeadLetterRepository = (*DeadLetterRepository)(nil)

func NewDeadLetterRepository(db *bun.DB) *DeadLetterRepository {
	handlers := repository.ModelHandlers[*domain.DeadLetter]{
		NewRecord:          func() *domain.DeadLetter { return &domain.DeadLetter{} },
		GetID:              func(d *domain.DeadLetter) uuid.UUID { return d.ID },
		SetID:              func(d *domain.DeadLetter, id uuid.UUID) { d.ID = id },
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: func(d *domain.DeadLetter) string { return d.ID.String() },
	}
	return &DeadLetterRepository{
		base: newBaseRepository[domain.DeadLetter](db, handlers, func(d *domain.DeadLetter) *domain.RecordMeta { return &d.RecordMeta }),
	}
}

func (r *DeadLetterRepository) Create(ctx context.Context, letter *domain.DeadLetter) error {
	return r.base.create(ctx, letter)
}

func (r *DeadLetterRepository) Update(ctx context.Context, letter *domain.DeadLetter) error {
	return r.base.update(ctx, letter)
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
	records, total, err := r.base.repo.List(ctx,
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("identity = ?", identity)
		},
		withListOptions(opts),
	)
	if err != nil {
		return store.ListResult[domain.DeadLetter]{}, mapError(err)
	}
	items := make([]domain.DeadLetter, len(records))
	for i, rec := range records {
		items[i] = *rec
	}
	return store.ListResult[domain.DeadLetter]{Items: items, Total: total}, nil
}
