package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// EventRepository keeps per-topic event streams in process memory. The
// sequence counter and the record write share one lock, which makes the
// allocation atomic with respect to concurrent appenders.
type EventRepository struct {
	base baseMemoryRepo[domain.Event]
	next map[string]uint64
}

var _ store.EventRepository = (*EventRepository)(nil)

func NewEventRepository() *EventRepository {
	return &EventRepository{
		base: newBaseMemoryRepo[domain.Event]("event", func(e *domain.Event) *domain.RecordMeta { return &e.RecordMeta }),
		next: make(map[string]uint64),
	}
}

func (r *EventRepository) Create(ctx context.Context, e *domain.Event) error {
	return r.base.create(ctx, e)
}

func (r *EventRepository) Update(ctx context.Context, e *domain.Event) error {
	return r.base.update(ctx, e)
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
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	r.next[evt.Topic]++
	evt.Sequence = r.next[evt.Topic]
	return r.base.createLocked(evt)
}

func (r *EventRepository) ListSince(ctx context.Context, topic string, since uint64, limit int) ([]domain.Event, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	var out []domain.Event
	for _, record := range r.base.records {
		if record.Topic == topic && record.Sequence > since {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EventRepository) HeadSequence(ctx context.Context, topic string) (uint64, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()
	return r.next[topic], nil
}

func (r *EventRepository) OldestSequence(ctx context.Context, topic string) (uint64, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	var oldest uint64
	for _, record := range r.base.records {
		if record.Topic != topic {
			continue
		}
		if oldest == 0 || record.Sequence < oldest {
			oldest = record.Sequence
		}
	}
	return oldest, nil
}

func (r *EventRepository) Prune(ctx context.Context, topic string, maxSeq uint64, cutoff time.Time) (int, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	removed := 0
	for id, record := range r.base.records {
		if record.Topic != topic {
			continue
		}
		byCount := maxSeq > 0 && record.Sequence <= maxSeq
		byAge := !cutoff.IsZero() && record.CreatedAt.Before(cutoff)
		if byCount || byAge {
			delete(r.base.records, id)
			removed++
		}
	}
	return removed, nil
}

func (r *EventRepository) CountByTopic(ctx context.Context, topic string) (int, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	count := 0
	for _, record := range r.base.records {
		if record.Topic == topic {
			count++
		}
	}
	return count, nil
}

func (r *EventRepository) Topics(ctx context.Context) ([]string, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, record := range r.base.records {
		seen[record.Topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for topic := range seen {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out, nil
}
