package commands

import (
	"context"
	"errors"
	"strings"

	command "github.com/goliatone/go-command"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/auth"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
)

// Catalog exposes go-command compatible handlers for host transports.
type Catalog struct {
	PublishEvent   command.Commander[PublishEvent]
	AckSequence    command.Commander[AckSequence]
	MarkOffline    command.Commander[MarkOffline]
	RevokeToken    command.Commander[RevokeToken]
	PruneRetention command.Commander[PruneRetention]
}

type publishService interface {
	Publish(ctx context.Context, topic string, kind domain.Kind, payload domain.JSONMap, origin string) (*domain.Event, error)
}

type ackService interface {
	Ack(ctx context.Context, identity, topic string, sequence uint64) error
}

type retentionService interface {
	PruneAll(ctx context.Context) error
}

type sessionService interface {
	DropIdentity(identity, reason string) int
}

// Dependencies wires engine services into the command catalog.
type Dependencies struct {
	Publisher publishService
	Acks      ackService
	Retention retentionService
	Sessions  sessionService
	Revoker   auth.Revoker
	Logger    logger.Logger
}

// NewCatalog builds the command catalog using the supplied dependencies.
func NewCatalog(deps Dependencies) (*Catalog, error) {
	if deps.Publisher == nil {
		return nil, errors.New("commands: publisher service is required")
	}
	if deps.Acks == nil {
		return nil, errors.New("commands: ack service is required")
	}
	if deps.Retention == nil {
		return nil, errors.New("commands: retention service is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("commands: session service is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}

	return &Catalog{
		PublishEvent:   publishEventCommand{svc: deps.Publisher},
		AckSequence:    ackSequenceCommand{svc: deps.Acks},
		MarkOffline:    markOfflineCommand{sessions: deps.Sessions, logger: deps.Logger},
		RevokeToken:    revokeTokenCommand{revoker: deps.Revoker},
		PruneRetention: pruneRetentionCommand{svc: deps.Retention},
	}, nil
}

// PublishEvent is the payload for publishing one event to a topic.
type PublishEvent struct {
	Topic   string         `json:"topic"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
	Origin  string         `json:"origin"`
}

type publishEventCommand struct {
	svc publishService
}

func (c publishEventCommand) Execute(ctx context.Context, msg PublishEvent) error {
	msg.Topic = strings.TrimSpace(msg.Topic)
	if msg.Topic == "" {
		return errors.New("commands: topic is required")
	}
	_, err := c.svc.Publish(ctx, msg.Topic, domain.Kind(msg.Kind), domain.JSONMap(msg.Payload), msg.Origin)
	return err
}

// AckSequence records a client's replay floor for a topic.
type AckSequence struct {
	Identity string `json:"identity"`
	Topic    string `json:"topic"`
	Sequence uint64 `json:"sequence"`
}

type ackSequenceCommand struct {
	svc ackService
}

func (c ackSequenceCommand) Execute(ctx context.Context, msg AckSequence) error {
	return c.svc.Ack(ctx, msg.Identity, msg.Topic, msg.Sequence)
}

// MarkOffline drops every live connection of an identity. Logout issues this
// together with RevokeToken; either half may arrive first and each is
// idempotent on its own.
type MarkOffline struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

type markOfflineCommand struct {
	sessions sessionService
	logger   logger.Logger
}

func (c markOfflineCommand) Execute(ctx context.Context, msg MarkOffline) error {
	if msg.Identity == "" {
		return errors.New("commands: identity is required")
	}
	reason := msg.Reason
	if reason == "" {
		reason = "marked offline"
	}
	dropped := c.sessions.DropIdentity(msg.Identity, reason)
	if dropped > 0 {
		c.logger.Info("identity marked offline",
			logger.Field{Key: "identity", Value: msg.Identity},
			logger.Field{Key: "dropped", Value: dropped},
		)
	}
	return nil
}

// RevokeToken permanently invalidates an identity's connect tokens.
type RevokeToken struct {
	Identity string `json:"identity"`
}

type revokeTokenCommand struct {
	revoker auth.Revoker
}

func (c revokeTokenCommand) Execute(ctx context.Context, msg RevokeToken) error {
	if msg.Identity == "" {
		return errors.New("commands: identity is required")
	}
	if c.revoker == nil {
		return nil
	}
	return c.revoker.Revoke(ctx, msg.Identity)
}

// PruneRetention enforces the retention window on every topic.
type PruneRetention struct{}

type pruneRetentionCommand struct {
	svc retentionService
}

func (c pruneRetentionCommand) Execute(ctx context.Context, _ PruneRetention) error {
	return c.svc.PruneAll(ctx)
}
