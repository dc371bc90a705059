package bunrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// EventRepository persists per-topic event streams. Sequence allocation and
// the event insert run inside a single transaction so concurrent appenders
// never observe a gap or a duplicate.
type EventRepository struct {
	base baseRepository[domain.Event]
}

var _ store.EventRepository = (*EventRepository)(nil)

func NewEventRepository(db *bun.DB) *EventRepository {
	handlers := repository.ModelHandlers[*domain.Event]{
		NewRecord:          func() *domain.Event { return &domain.Event{} },
		GetID:              func(e *domain.Event) uuid.UUID { return e.ID },
		SetID:              func(e *domain.Event, id uuid.UUID) { e.ID = id },
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: func(e *domain.Event) string { return e.ID.String() },
	}
	return &EventRepository{
		base: newBaseRepository[domain.Event](db, handlers, func(e *domain.Event) *domain.RecordMeta { return &e.RecordMeta }),
	}
}

func (r *EventRepository) Create(ctx context.Context, evt *domain.Event) error {
	return r.base.create(ctx, evt)
}

func (r *EventRepository) Update(ctx context.Context, evt *domain.Event) error {
	return r.base.update(ctx, evt)
}

func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return r.base.getByID(ctx, id, false)
}

func (r *EventRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.Event], error) {
	return r.base.list(ctx, opts)
}

func (r *EventRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.base.softDelete(ctx, id)
}

func (r *EventRepository) Append(ctx context.Context, evt *domain.Event) error {
	return r.base.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		counter := &domain.TopicSequence{Topic: evt.Topic}
		if _, err := tx.NewInsert().
			Model(counter).
			On("CONFLICT (topic) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*domain.TopicSequence)(nil)).
			Set("next = next + 1").
			Where("topic = ?", evt.Topic).
			Exec(ctx); err != nil {
			return err
		}
		if err := tx.NewSelect().
			Model((*domain.TopicSequence)(nil)).
			Column("next").
			Where("topic = ?", evt.Topic).
			Scan(ctx, &evt.Sequence); err != nil {
			return err
		}

		evt.EnsureID()
		now := time.Now().UTC()
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = now
		}
		evt.UpdatedAt = now
		_, err := tx.NewInsert().Model(evt).Exec(ctx)
		return err
	})
}

func (r *EventRepository) ListSince(ctx context.Context, topic string, since uint64, limit int) ([]domain.Event, error) {
	records, _, err := r.base.repo.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("topic = ?", topic).
			Where("sequence > ?", since).
			Order("sequence ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]domain.Event, len(records))
	for i, rec := range records {
		items[i] = *rec
	}
	return items, nil
}

func (r *EventRepository) HeadSequence(ctx context.Context, topic string) (uint64, error) {
	var head uint64
	err := r.base.db.NewSelect().
		Model((*domain.TopicSequence)(nil)).
		Column("next").
		Where("topic = ?", topic).
		Scan(ctx, &head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return head, nil
}

func (r *EventRepository) OldestSequence(ctx context.Context, topic string) (uint64, error) {
	var oldest sql.NullInt64
	err := r.base.db.NewSelect().
		Model((*domain.Event)(nil)).
		ColumnExpr("MIN(sequence)").
		Where("topic = ?", topic).
		Scan(ctx, &oldest)
	if err != nil {
		return 0, err
	}
	if !oldest.Valid {
		return 0, nil
	}
	return uint64(oldest.Int64), nil
}

func (r *EventRepository) Prune(ctx context.Context, topic string, maxSeq uint64, cutoff time.Time) (int, error) {
	q := r.base.db.NewDelete().
		Model((*domain.Event)(nil)).
		Where("topic = ?", topic)

	switch {
	case maxSeq > 0 && !cutoff.IsZero():
		q = q.Where("(sequence <= ? OR created_at < ?)", maxSeq, cutoff)
	case maxSeq > 0:
		q = q.Where("sequence <= ?", maxSeq)
	case !cutoff.IsZero():
		q = q.Where("created_at < ?", cutoff)
	default:
		return 0, nil
	}

	res, err := q.ForceDelete().Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *EventRepository) CountByTopic(ctx context.Context, topic string) (int, error) {
	count, err := r.base.db.NewSelect().
		Model((*domain.Event)(nil)).
		Where("topic = ?", topic).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *EventRepository) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := r.base.db.NewSelect().
		Model((*domain.Event)(nil)).
		ColumnExpr("DISTINCT topic").
		Order("topic ASC").
		Scan(ctx, &topics)
	if err != nil {
		return nil, err
	}
	return topics, nil
}
