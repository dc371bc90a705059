package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
)

// Repository defines base CRUD helpers reused by entity-specific interfaces.
type Repository[T any] interface {
	Create(ctx context.Context, record *T) error
	Update(ctx context.Context, record *T) error
	GetByID(ctx context.Context, id uuid.UUID) (*T, error)
	List(ctx context.Context, opts ListOptions) (ListResult[T], error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// EventRepository owns the durable per-topic event streams.
type EventRepository interface {
	Repository[domain.Event]

	// Append allocates the next sequence number for the event's topic and
	// persists the record in one atomic step. On return the event carries
	// its assigned sequence. This is the single serialization point per
	// topic; no two events in a topic ever share a sequence number.
	Append(ctx context.Context, evt *domain.Event) error

	// ListSince returns up to limit events with sequence > since, ordered
	// by sequence ascending.
	ListSince(ctx context.Context, topic string, since uint64, limit int) ([]domain.Event, error)

	// HeadSequence returns the highest assigned sequence, 0 when the topic
	// has no events.
	HeadSequence(ctx context.Context, topic string) (uint64, error)

	// OldestSequence returns the lowest retained sequence, 0 when the topic
	// has no events.
	OldestSequence(ctx context.Context, topic string) (uint64, error)

	// Prune hard-deletes retained events at or below maxSeq that were
	// created before cutoff, returning how many were removed.
	Prune(ctx context.Context, topic string, maxSeq uint64, cutoff time.Time) (int, error)

	// CountByTopic returns the number of retained events for a topic.
	CountByTopic(ctx context.Context, topic string) (int, error)

	// Topics lists every topic with at least one retained event.
	Topics(ctx context.Context) ([]string, error)
}

// DeliveryJobRepository owns durable push delivery jobs.
type DeliveryJobRepository interface {
	Repository[domain.DeliveryJob]

	// CreateDedup persists the job unless one already exists for the same
	// (identity, topic, sequence) tuple. Reports whether a row was created.
	CreateDedup(ctx context.Context, job *domain.DeliveryJob) (bool, error)

	// ListDue returns queued jobs whose next attempt time is at or before
	// now, ordered by next attempt time.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error)

	// ListQueuedByIdentity returns queued jobs for one identity, used when
	// coalescing a burst into a single summary push.
	ListQueuedByIdentity(ctx context.Context, identity string, now time.Time) ([]domain.DeliveryJob, error)
}

// DeadLetterRepository stores abandoned delivery jobs for operators.
type DeadLetterRepository interface {
	Repository[domain.DeadLetter]

	ListByIdentity(ctx context.Context, identity string, opts ListOptions) (ListResult[domain.DeadLetter], error)
}

// ClientAckRepository tracks per-client replay floors.
type ClientAckRepository interface {
	// Upsert records the highest sequence the client durably processed.
	// Lower sequences than the stored floor are ignored.
	Upsert(ctx context.Context, ack *domain.ClientAck) error

	// Get returns the stored floor, 0 when the client never acked.
	Get(ctx context.Context, identity, topic string) (uint64, error)

	// LowestOutstanding returns the smallest ack floor across clients of a
	// topic. ok is false when no client has acked the topic.
	LowestOutstanding(ctx context.Context, topic string) (uint64, bool, error)
}
