package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/push"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/retry"
)

// Dependencies groups the dispatcher's collaborators.
type Dependencies struct {
	Jobs        store.DeliveryJobRepository
	Events      store.EventRepository
	DeadLetters store.DeadLetterRepository
	Sender      push.Sender
	Directory   membership.Directory
	Backoff     retry.Backoff
	Logger      logger.Logger
	Config      config.DispatcherConfig
}

var (
	ErrMissingJobs        = errors.New("dispatcher: job repository is required")
	ErrMissingEvents      = errors.New("dispatcher: event repository is required")
	ErrMissingDeadLetters = errors.New("dispatcher: dead letter repository is required")
)

// Service owns durable push delivery for identities that missed live
// delivery. Each job walks queued -> attempting -> succeeded or dead; a
// dead job leaves a dead letter and is never retried.
type Service struct {
	jobs        store.DeliveryJobRepository
	events      store.EventRepository
	deadLetters store.DeadLetterRepository
	sender      push.Sender
	directory   membership.Directory
	backoff     retry.Backoff
	logger      logger.Logger
	cfg         config.DispatcherConfig

	now       func() time.Time
	closeOnce sync.Once
	done      chan struct{}
}

// New builds the dispatcher.
func New(deps Dependencies) (*Service, error) {
	if deps.Jobs == nil {
		return nil, ErrMissingJobs
	}
	if deps.Events == nil {
		return nil, ErrMissingEvents
	}
	if deps.DeadLetters == nil {
		return nil, ErrMissingDeadLetters
	}
	if deps.Sender == nil {
		deps.Sender = &push.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Backoff == nil {
		deps.Backoff = retry.ExponentialBackoff{
			Base:   deps.Config.BaseBackoff,
			Max:    deps.Config.MaxBackoff,
			Jitter: 0.2,
		}
	}
	if deps.Config.MaxWorkers <= 0 {
		deps.Config.MaxWorkers = 4
	}
	if deps.Config.MaxAttempts <= 0 {
		deps.Config.MaxAttempts = 5
	}
	if deps.Config.PollInterval <= 0 {
		deps.Config.PollInterval = time.Second
	}
	return &Service{
		jobs:        deps.Jobs,
		events:      deps.Events,
		deadLetters: deps.DeadLetters,
		sender:      deps.Sender,
		directory:   deps.Directory,
		backoff:     deps.Backoff,
		logger:      deps.Logger,
		cfg:         deps.Config,
		now:         time.Now,
		done:        make(chan struct{}),
	}, nil
}

// Enqueue records a durable delivery job for the event. A job already
// queued for the same (identity, topic, sequence) is left untouched, so a
// publisher retry never doubles a notification.
func (s *Service) Enqueue(ctx context.Context, identity string, evt *domain.Event) error {
	if s.cfg.Disabled {
		return nil
	}
	job := &domain.DeliveryJob{
		Identity:      identity,
		Topic:         evt.Topic,
		Sequence:      evt.Sequence,
		EventID:       evt.ID,
		Status:        domain.JobStatusQueued,
		NextAttemptAt: s.now().UTC(),
	}
	created, err := s.jobs.CreateDedup(ctx, job)
	if err != nil {
		return fmt.Errorf("dispatcher: enqueue %s: %w", identity, err)
	}
	if created {
		s.logger.Debug("delivery job queued",
			logger.Field{Key: "identity", Value: identity},
			logger.Field{Key: "topic", Value: evt.Topic},
			logger.Field{Key: "sequence", Value: evt.Sequence},
		)
	}
	return nil
}

// Run polls for due jobs until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx, s.now()); err != nil {
				s.logger.Error("delivery poll failed", logger.Field{Key: "error", Value: err})
			}
		}
	}
}

// Close stops a running poll loop.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// ProcessDue claims every job due at now and drives each through one
// attempt, fanning the work across the configured number of workers.
// Returns how many jobs were processed.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.jobs.ListDue(ctx, now, s.cfg.MaxWorkers*8)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: list due: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	claimed := make([]domain.DeliveryJob, 0, len(due))
	for i := range due {
		job := due[i]
		job.Status = domain.JobStatusAttempting
		if err := s.jobs.Update(ctx, &job); err != nil {
			s.logger.Error("claim failed",
				logger.Field{Key: "job", Value: job.ID},
				logger.Field{Key: "error", Value: err},
			)
			continue
		}
		claimed = append(claimed, job)
	}

	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup
	for i := range claimed {
		job := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, &job, now)
		}()
	}
	wg.Wait()
	return len(claimed), nil
}

// process runs one delivery attempt for a claimed job.
func (s *Service) process(ctx context.Context, job *domain.DeliveryJob, now time.Time) {
	var siblings []domain.DeliveryJob
	if s.cfg.Coalesce {
		var err error
		siblings, err = s.jobs.ListQueuedByIdentity(ctx, job.Identity, now.Add(s.cfg.CoalesceWindow))
		if err != nil {
			s.logger.Error("coalesce lookup failed",
				logger.Field{Key: "identity", Value: job.Identity},
				logger.Field{Key: "error", Value: err},
			)
			siblings = nil
		}
	}

	job.Attempts++
	outcome, sendErr := s.sender.Deliver(ctx, s.buildNotification(ctx, job, len(siblings)))

	switch outcome {
	case push.Delivered:
		s.markSucceeded(ctx, job)
		for i := range siblings {
			sib := siblings[i]
			sib.Attempts++
			s.markSucceeded(ctx, &sib)
		}
	case push.PermanentFailure:
		s.bury(ctx, job, domain.DeadReasonPermanent, sendErr)
		if s.directory != nil {
			if err := s.directory.InvalidatePushDestination(ctx, job.Identity); err != nil {
				s.logger.Error("destination invalidation failed",
					logger.Field{Key: "identity", Value: job.Identity},
					logger.Field{Key: "error", Value: err},
				)
			}
		}
	default:
		if job.Attempts >= s.cfg.MaxAttempts {
			s.bury(ctx, job, domain.DeadReasonExhausted, sendErr)
			return
		}
		job.Status = domain.JobStatusQueued
		job.NextAttemptAt = now.Add(s.backoff.Next(job.Attempts))
		if sendErr != nil {
			job.LastError = sendErr.Error()
		}
		if err := s.jobs.Update(ctx, job); err != nil {
			s.logger.Error("requeue failed",
				logger.Field{Key: "job", Value: job.ID},
				logger.Field{Key: "error", Value: err},
			)
		}
	}
}

func (s *Service) markSucceeded(ctx context.Context, job *domain.DeliveryJob) {
	job.Status = domain.JobStatusSucceeded
	job.LastError = ""
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("mark succeeded failed",
			logger.Field{Key: "job", Value: job.ID},
			logger.Field{Key: "error", Value: err},
		)
	}
}

// bury moves the job to its terminal dead state and records a dead letter.
func (s *Service) bury(ctx context.Context, job *domain.DeliveryJob, reason string, cause error) {
	job.Status = domain.JobStatusDead
	if cause != nil {
		job.LastError = cause.Error()
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("mark dead failed",
			logger.Field{Key: "job", Value: job.ID},
			logger.Field{Key: "error", Value: err},
		)
	}
	letter := &domain.DeadLetter{
		JobID:    job.ID,
		Identity: job.Identity,
		Topic:    job.Topic,
		Sequence: job.Sequence,
		Attempts: job.Attempts,
		Reason:   reason,
	}
	if err := s.deadLetters.Create(ctx, letter); err != nil {
		s.logger.Error("dead letter write failed",
			logger.Field{Key: "job", Value: job.ID},
			logger.Field{Key: "error", Value: err},
		)
		return
	}
	s.logger.Info("delivery job dead lettered",
		logger.Field{Key: "identity", Value: job.Identity},
		logger.Field{Key: "topic", Value: job.Topic},
		logger.Field{Key: "sequence", Value: job.Sequence},
		logger.Field{Key: "reason", Value: reason},
	)
}

// buildNotification renders the push payload for a job. When coalescing
// folds extra queued jobs into this attempt, the payload becomes a summary
// instead of the single event's content.
func (s *Service) buildNotification(ctx context.Context, job *domain.DeliveryJob, extra int) push.Notification {
	n := push.Notification{
		Identity: job.Identity,
		Data: map[string]any{
			"topic":    job.Topic,
			"sequence": job.Sequence,
		},
	}
	if extra > 0 {
		n.Title = "While you were away"
		n.Body = fmt.Sprintf("%d new updates", extra+1)
		n.Data["coalesced"] = extra + 1
		return n
	}

	evt, err := s.events.GetByID(ctx, job.EventID)
	if err != nil {
		// The event may have been pruned; fall back to a generic payload.
		n.Title = "New activity"
		return n
	}
	n.Data["kind"] = string(evt.Kind)
	switch evt.Kind {
	case domain.KindChatMessage:
		n.Title = "New message"
		if text, ok := evt.Payload["text"].(string); ok {
			n.Body = text
		}
	case domain.KindPlanStatus:
		n.Title = "Plan update"
		if status, ok := evt.Payload["status"].(string); ok {
			n.Body = fmt.Sprintf("Plan is now %s", status)
		}
	case domain.KindGroupMember:
		n.Title = "Group membership changed"
	default:
		n.Title = "New activity"
	}
	return n
}

// DeadLetters lists abandoned deliveries for one identity.
func (s *Service) DeadLetters(ctx context.Context, identity string, opts store.ListOptions) (store.ListResult[domain.DeadLetter], error) {
	return s.deadLetters.ListByIdentity(ctx, identity, opts)
}
