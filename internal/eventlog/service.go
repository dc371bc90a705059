package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// Dependencies groups the repositories required by the event log.
type Dependencies struct {
	Events store.EventRepository
	Acks   store.ClientAckRepository
	Logger logger.Logger
	Config config.LogConfig
}

// Service is the durable outbox underlying both delivery paths. Append is
// the only serialization point per topic; replay gives reconnecting
// clients a gap-free backlog.
type Service struct {
	events store.EventRepository
	acks   store.ClientAckRepository
	logger logger.Logger
	cfg    config.LogConfig
}

var (
	ErrMissingEvents = errors.New("eventlog: event repository is required")
	ErrMissingAcks   = errors.New("eventlog: ack repository is required")
)

// New builds the event log service.
func New(deps Dependencies) (*Service, error) {
	if deps.Events == nil {
		return nil, ErrMissingEvents
	}
	if deps.Acks == nil {
		return nil, ErrMissingAcks
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Config.ReplayPage <= 0 {
		deps.Config.ReplayPage = 500
	}
	return &Service{
		events: deps.Events,
		acks:   deps.Acks,
		logger: deps.Logger,
		cfg:    deps.Config,
	}, nil
}

// Append allocates the topic's next sequence number and durably writes the
// event in one atomic step. No publish is acknowledged before this returns.
func (s *Service) Append(ctx context.Context, topic string, kind domain.Kind, payload domain.JSONMap, origin string) (*domain.Event, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("eventlog: topic is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("eventlog: unknown event kind %q", kind)
	}

	evt := &domain.Event{
		Topic:   topic,
		Kind:    kind,
		Payload: payload,
		Origin:  origin,
	}
	if err := s.events.Append(ctx, evt); err != nil {
		return nil, fmt.Errorf("eventlog: append: %w", err)
	}
	return evt, nil
}

// Head returns the topic's highest assigned sequence.
func (s *Service) Head(ctx context.Context, topic string) (uint64, error) {
	return s.events.HeadSequence(ctx, topic)
}

// Replay prepares a lazy, finite, restartable walk over the events with
// sequence > since. It fails with domain.ErrStaleReplay when the requested
// window predates the retention horizon; the caller must then resync full
// state from the source of truth instead of the log.
func (s *Service) Replay(ctx context.Context, topic string, since uint64) (*Replay, error) {
	oldest, err := s.events.OldestSequence(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("eventlog: oldest sequence: %w", err)
	}
	if oldest > 0 && since+1 < oldest {
		return nil, fmt.Errorf("eventlog: topic %s since %d: %w", topic, since, domain.ErrStaleReplay)
	}
	if oldest == 0 {
		// No events retained. The head survives pruning, so a head past the
		// client's floor means the gap itself was pruned away.
		head, err := s.events.HeadSequence(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("eventlog: head sequence: %w", err)
		}
		if head > since {
			return nil, fmt.Errorf("eventlog: topic %s since %d: %w", topic, since, domain.ErrStaleReplay)
		}
	}
	return &Replay{
		svc:    s,
		topic:  topic,
		cursor: since,
		page:   s.cfg.ReplayPage,
	}, nil
}

// Ack records the highest sequence the client durably processed. Lower
// sequences than the stored floor are ignored, so duplicate or out-of-order
// acks are harmless.
func (s *Service) Ack(ctx context.Context, identity, topic string, sequence uint64) error {
	if identity == "" || topic == "" {
		return errors.New("eventlog: identity and topic are required")
	}
	return s.acks.Upsert(ctx, &domain.ClientAck{
		Identity: identity,
		Topic:    topic,
		Sequence: sequence,
		AckedAt:  time.Now().UTC(),
	})
}

// AckFloor returns the client's stored replay floor, 0 when never acked.
func (s *Service) AckFloor(ctx context.Context, identity, topic string) (uint64, error) {
	return s.acks.Get(ctx, identity, topic)
}

// Prune enforces the retention window for one topic. The count bound never
// reaches above the lowest outstanding client ack; the age bound does, so
// retention stays finite even for clients that vanished.
func (s *Service) Prune(ctx context.Context, topic string) (int, error) {
	var maxSeq uint64
	if s.cfg.RetainCount > 0 {
		head, err := s.events.HeadSequence(ctx, topic)
		if err != nil {
			return 0, err
		}
		if head > uint64(s.cfg.RetainCount) {
			maxSeq = head - uint64(s.cfg.RetainCount)
		}
		if floor, ok, err := s.acks.LowestOutstanding(ctx, topic); err != nil {
			return 0, err
		} else if ok && floor < maxSeq {
			maxSeq = floor
		}
	}

	var cutoff time.Time
	if s.cfg.RetainAge > 0 {
		cutoff = time.Now().UTC().Add(-s.cfg.RetainAge)
	}

	if maxSeq == 0 && cutoff.IsZero() {
		return 0, nil
	}
	removed, err := s.events.Prune(ctx, topic, maxSeq, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune %s: %w", topic, err)
	}
	if removed > 0 {
		s.logger.Debug("event retention pruned",
			logger.Field{Key: "topic", Value: topic},
			logger.Field{Key: "removed", Value: removed},
		)
	}
	return removed, nil
}

// PruneAll walks every known topic, used by the background retention loop.
func (s *Service) PruneAll(ctx context.Context) error {
	topics, err := s.events.Topics(ctx)
	if err != nil {
		return err
	}
	for _, topic := range topics {
		if _, err := s.Prune(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// Replay walks a topic's backlog in sequence order, one page at a time.
type Replay struct {
	svc    *Service
	topic  string
	cursor uint64
	page   int
	done   bool
}

// Next returns the next page of events, empty when the backlog is
// exhausted. The cursor only advances on success, so a failed call can be
// retried without skipping events.
func (r *Replay) Next(ctx context.Context) ([]domain.Event, error) {
	if r.done {
		return nil, nil
	}
	events, err := r.svc.events.ListSince(ctx, r.topic, r.cursor, r.page)
	if err != nil {
		return nil, fmt.Errorf("eventlog: replay %s: %w", r.topic, err)
	}
	if len(events) == 0 {
		r.done = true
		return nil, nil
	}
	r.cursor = events[len(events)-1].Sequence
	if len(events) < r.page {
		r.done = true
	}
	return events, nil
}
