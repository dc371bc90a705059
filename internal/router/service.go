package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/eventlog"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/broadcaster"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
)

// Queue accepts events for durable out-of-band delivery. The notification
// dispatcher is the production implementation.
type Queue interface {
	Enqueue(ctx context.Context, identity string, evt *domain.Event) error
}

// NopQueue discards everything, used when durable delivery is disabled.
type NopQueue struct{}

var _ Queue = (*NopQueue)(nil)

func (n *NopQueue) Enqueue(ctx context.Context, identity string, evt *domain.Event) error {
	return nil
}

// Presence reports identity liveness, including the reconnect grace window
// after the last connection drops.
type Presence interface {
	IsOnline(identity string) bool
}

// Dependencies groups the router's collaborators.
type Dependencies struct {
	Log         *eventlog.Service
	Directory   membership.Directory
	Broadcaster broadcaster.Broadcaster
	Queue       Queue
	Presence    Presence
	Logger      logger.Logger
}

var (
	ErrMissingLog       = errors.New("router: event log is required")
	ErrMissingDirectory = errors.New("router: membership directory is required")
)

// Service fans a published event out to topic members. The event is durable
// before any fan-out happens; recipients that cannot take live delivery fall
// back to the durable queue. One recipient failing never blocks the rest.
type Service struct {
	log       *eventlog.Service
	directory membership.Directory
	live      broadcaster.Broadcaster
	queue     Queue
	presence  Presence
	logger    logger.Logger
}

// New builds the router.
func New(deps Dependencies) (*Service, error) {
	if deps.Log == nil {
		return nil, ErrMissingLog
	}
	if deps.Directory == nil {
		return nil, ErrMissingDirectory
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = &broadcaster.Nop{}
	}
	if deps.Queue == nil {
		deps.Queue = &NopQueue{}
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	return &Service{
		log:       deps.Log,
		directory: deps.Directory,
		live:      deps.Broadcaster,
		queue:     deps.Queue,
		presence:  deps.Presence,
		logger:    deps.Logger,
	}, nil
}

// Publish appends the event to the topic's log, then delivers it to every
// member. The append is the durability point: once it succeeds the publish
// is acknowledged even if every downstream delivery degrades.
//
// The member snapshot is taken once per publish, so a membership change
// racing with the fan-out affects either all recipients or none.
func (s *Service) Publish(ctx context.Context, topic string, kind domain.Kind, payload domain.JSONMap, origin string) (*domain.Event, error) {
	evt, err := s.log.Append(ctx, topic, kind, payload, origin)
	if err != nil {
		return nil, fmt.Errorf("router: publish %s: %w", topic, err)
	}

	members, err := s.directory.MembersOf(ctx, topic)
	if err != nil {
		s.logger.Error("membership lookup failed, event logged but not fanned out",
			logger.Field{Key: "topic", Value: topic},
			logger.Field{Key: "sequence", Value: evt.Sequence},
			logger.Field{Key: "error", Value: err},
		)
		return evt, nil
	}

	for _, member := range members {
		if kind.EchoSuppressed() && member == origin {
			continue
		}
		s.deliver(ctx, member, evt)
	}
	return evt, nil
}

// deliver attempts live delivery first and degrades to the durable queue
// when no connection accepted the frame. An identity still inside its
// reconnect grace window is not queued: replay from the event log covers
// the gap when the connection returns.
func (s *Service) deliver(ctx context.Context, identity string, evt *domain.Event) {
	if s.live.SendTo(ctx, identity, evt) {
		return
	}
	if s.presence != nil && s.presence.IsOnline(identity) {
		s.logger.Debug("identity in grace window, deferring to replay",
			logger.Field{Key: "identity", Value: identity},
			logger.Field{Key: "topic", Value: evt.Topic},
			logger.Field{Key: "sequence", Value: evt.Sequence},
		)
		return
	}
	if err := s.queue.Enqueue(ctx, identity, evt); err != nil {
		s.logger.Error("durable enqueue failed",
			logger.Field{Key: "identity", Value: identity},
			logger.Field{Key: "topic", Value: evt.Topic},
			logger.Field{Key: "sequence", Value: evt.Sequence},
			logger.Field{Key: "error", Value: err},
		)
	}
}
