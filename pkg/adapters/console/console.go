package console

import (
	"context"
	"fmt"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/push"
)

// Sender writes notifications to the configured logger for debugging.
type Sender struct {
	name string
	lgr  logger.Logger
	opts Options
}

var _ push.Sender = (*Sender)(nil)

type Option func(*Sender)

// Options tweak console output.
type Options struct {
	Structured bool // when true, emit structured log fields instead of a formatted string
}

// WithName overrides the sender name (defaults to "console").
func WithName(name string) Option {
	return func(s *Sender) {
		if name != "" {
			s.name = name
		}
	}
}

// WithStructured enables structured logging mode.
func WithStructured(enabled bool) Option {
	return func(s *Sender) {
		s.opts.Structured = enabled
	}
}

// New constructs a console sender.
func New(l logger.Logger, opts ...Option) *Sender {
	if l == nil {
		l = &logger.Nop{}
	}
	sender := &Sender{
		name: "console",
		lgr:  l,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	return sender
}

// Name identifies the sender in logs and configuration.
func (s *Sender) Name() string {
	return s.name
}

// Deliver logs the notification and reports it as delivered.
func (s *Sender) Deliver(ctx context.Context, n push.Notification) (push.Outcome, error) {
	if s.opts.Structured {
		s.lgr.Info("console delivery",
			logger.Field{Key: "identity", Value: n.Identity},
			logger.Field{Key: "title", Value: n.Title},
			logger.Field{Key: "body", Value: n.Body},
			logger.Field{Key: "data", Value: n.Data},
		)
		return push.Delivered, nil
	}

	s.lgr.Info(fmt.Sprintf("[%s] to=%s title=%s body=%s", s.name, n.Identity, n.Title, n.Body))
	return push.Delivered, nil
}
