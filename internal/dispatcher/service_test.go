package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/storage/memory"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/push"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/retry"
)

type scriptedSender struct {
	mu       sync.Mutex
	outcomes []push.Outcome
	errs     []error
	sent     []push.Notification
}

func (s *scriptedSender) Deliver(ctx context.Context, n push.Notification) (push.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	idx := len(s.sent) - 1
	if idx >= len(s.outcomes) {
		return push.Delivered, nil
	}
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	return s.outcomes[idx], err
}

type fixture struct {
	svc    *Service
	jobs   *memory.DeliveryJobRepository
	events *memory.EventRepository
	dead   *memory.DeadLetterRepository
	dir    *membership.Static
	sender *scriptedSender
}

func newFixture(t *testing.T, cfg config.DispatcherConfig, sender *scriptedSender) *fixture {
	t.Helper()
	f := &fixture{
		jobs:   memory.NewDeliveryJobRepository(),
		events: memory.NewEventRepository(),
		dead:   memory.NewDeadLetterRepository(),
		dir:    &membership.Static{Members: map[string][]string{}},
		sender: sender,
	}
	svc, err := New(Dependencies{
		Jobs:        f.jobs,
		Events:      f.events,
		DeadLetters: f.dead,
		Sender:      sender,
		Directory:   f.dir,
		Backoff:     retry.ExponentialBackoff{Base: time.Second, Max: time.Minute},
		Config:      cfg,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) appendAndEnqueue(t *testing.T, identity, topic string, kind domain.Kind, payload domain.JSONMap) *domain.Event {
	t.Helper()
	ctx := context.Background()
	evt := &domain.Event{Topic: topic, Kind: kind, Payload: payload}
	if err := f.events.Append(ctx, evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.svc.Enqueue(ctx, identity, evt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return evt
}

func (f *fixture) jobFor(t *testing.T, identity string) domain.DeliveryJob {
	t.Helper()
	list, err := f.jobs.List(context.Background(), store.ListOptions{})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, job := range list.Items {
		if job.Identity == identity {
			return job
		}
	}
	t.Fatalf("no job for %s", identity)
	return domain.DeliveryJob{}
}

func TestEnqueueDedupsPublishRetries(t *testing.T) {
	f := newFixture(t, config.DispatcherConfig{}, &scriptedSender{})
	ctx := context.Background()

	evt := f.appendAndEnqueue(t, "carol", "group:1", domain.KindChatMessage, nil)
	if err := f.svc.Enqueue(ctx, "carol", evt); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	list, err := f.jobs.List(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 1 {
		t.Fatalf("expected 1 job after duplicate enqueue, got %d", list.Total)
	}
}

func TestProcessDueDeliversAndSucceeds(t *testing.T) {
	sender := &scriptedSender{}
	f := newFixture(t, config.DispatcherConfig{}, sender)

	f.appendAndEnqueue(t, "carol", "group:1", domain.KindChatMessage, domain.JSONMap{"text": "see you at 8"})

	processed, err := f.svc.ProcessDue(context.Background(), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}

	job := f.jobFor(t, "carol")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 push, got %d", len(sender.sent))
	}
	if sender.sent[0].Title != "New message" || sender.sent[0].Body != "see you at 8" {
		t.Fatalf("unexpected notification %+v", sender.sent[0])
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	sender := &scriptedSender{
		outcomes: []push.Outcome{push.TransientFailure, push.TransientFailure, push.Delivered},
		errs:     []error{errors.New("timeout"), errors.New("timeout"), nil},
	}
	f := newFixture(t, config.DispatcherConfig{MaxAttempts: 5}, sender)
	ctx := context.Background()

	f.appendAndEnqueue(t, "carol", "group:1", domain.KindPlanStatus, domain.JSONMap{"status": "confirmed"})

	at := time.Now()
	for attempt := 1; attempt <= 3; attempt++ {
		at = at.Add(2 * time.Minute)
		if _, err := f.svc.ProcessDue(ctx, at); err != nil {
			t.Fatalf("process attempt %d: %v", attempt, err)
		}
	}

	job := f.jobFor(t, "carol")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded after retries, got %s (attempts=%d)", job.Status, job.Attempts)
	}
	if job.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", job.Attempts)
	}
	if letters, _ := f.dead.ListByIdentity(ctx, "carol", store.ListOptions{}); letters.Total != 0 {
		t.Fatalf("no dead letters expected, got %d", letters.Total)
	}
}

func TestTransientFailureNotRetriedBeforeBackoff(t *testing.T) {
	sender := &scriptedSender{outcomes: []push.Outcome{push.TransientFailure}, errs: []error{errors.New("timeout")}}
	f := newFixture(t, config.DispatcherConfig{MaxAttempts: 5}, sender)
	ctx := context.Background()

	f.appendAndEnqueue(t, "carol", "group:1", domain.KindChatMessage, nil)

	now := time.Now()
	if _, err := f.svc.ProcessDue(ctx, now.Add(time.Millisecond)); err != nil {
		t.Fatalf("process: %v", err)
	}
	// The backoff pushed the next attempt at least a second out.
	processed, err := f.svc.ProcessDue(ctx, now.Add(10*time.Millisecond))
	if err != nil {
		t.Fatalf("process again: %v", err)
	}
	if processed != 0 {
		t.Fatalf("job must wait for its backoff, processed %d", processed)
	}
}

func TestRetriesExhaustedDeadLetters(t *testing.T) {
	sender := &scriptedSender{
		outcomes: []push.Outcome{push.TransientFailure, push.TransientFailure, push.TransientFailure},
		errs:     []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	f := newFixture(t, config.DispatcherConfig{MaxAttempts: 3}, sender)
	ctx := context.Background()

	f.appendAndEnqueue(t, "carol", "group:1", domain.KindChatMessage, nil)

	at := time.Now()
	for attempt := 1; attempt <= 3; attempt++ {
		at = at.Add(5 * time.Minute)
		if _, err := f.svc.ProcessDue(ctx, at); err != nil {
			t.Fatalf("process attempt %d: %v", attempt, err)
		}
	}

	job := f.jobFor(t, "carol")
	if job.Status != domain.JobStatusDead {
		t.Fatalf("expected dead after exhausting retries, got %s", job.Status)
	}

	letters, err := f.svc.DeadLetters(ctx, "carol", store.ListOptions{})
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if letters.Total != 1 {
		t.Fatalf("expected 1 dead letter, got %d", letters.Total)
	}
	if letters.Items[0].Reason != domain.DeadReasonExhausted {
		t.Fatalf("expected exhausted reason, got %s", letters.Items[0].Reason)
	}
	if letters.Items[0].Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", letters.Items[0].Attempts)
	}

	// A dead job is terminal.
	if processed, _ := f.svc.ProcessDue(ctx, at.Add(time.Hour)); processed != 0 {
		t.Fatalf("dead jobs must never be retried, processed %d", processed)
	}
}

func TestPermanentFailureDeadLettersImmediatelyAndInvalidates(t *testing.T) {
	sender := &scriptedSender{
		outcomes: []push.Outcome{push.PermanentFailure},
		errs:     []error{errors.New("unregistered token")},
	}
	f := newFixture(t, config.DispatcherConfig{MaxAttempts: 5}, sender)
	ctx := context.Background()

	f.appendAndEnqueue(t, "carol", "group:1", domain.KindChatMessage, nil)

	if _, err := f.svc.ProcessDue(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("process: %v", err)
	}

	job := f.jobFor(t, "carol")
	if job.Status != domain.JobStatusDead {
		t.Fatalf("expected dead on permanent failure, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("permanent failure must not burn retries, attempts=%d", job.Attempts)
	}

	letters, _ := f.svc.DeadLetters(ctx, "carol", store.ListOptions{})
	if letters.Total != 1 || letters.Items[0].Reason != domain.DeadReasonPermanent {
		t.Fatalf("expected permanent dead letter, got %+v", letters.Items)
	}
	if len(f.dir.Invalidated) != 1 || f.dir.Invalidated[0] != "carol" {
		t.Fatalf("push destination must be invalidated, got %v", f.dir.Invalidated)
	}
}

func TestCoalesceMergesBurstIntoSummary(t *testing.T) {
	sender := &scriptedSender{}
	f := newFixture(t, config.DispatcherConfig{Coalesce: true, CoalesceWindow: time.Minute}, sender)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.appendAndEnqueue(t, "carol", "group:1", domain.KindChatMessage, domain.JSONMap{"text": "msg"})
	}

	// Only the first job is due; the rest sit inside the coalesce window.
	first := f.jobFor(t, "carol")
	list, _ := f.jobs.List(ctx, store.ListOptions{})
	for _, job := range list.Items {
		if job.ID == first.ID {
			continue
		}
		job.NextAttemptAt = time.Now().Add(30 * time.Second)
		if err := f.jobs.Update(ctx, &job); err != nil {
			t.Fatalf("stage job: %v", err)
		}
	}

	if _, err := f.svc.ProcessDue(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one summary push, got %d", len(sender.sent))
	}
	if sender.sent[0].Body != "3 new updates" {
		t.Fatalf("expected summary body, got %q", sender.sent[0].Body)
	}

	list, _ = f.jobs.List(ctx, store.ListOptions{})
	for _, job := range list.Items {
		if job.Status != domain.JobStatusSucceeded {
			t.Fatalf("all coalesced jobs must succeed, %s is %s", job.ID, job.Status)
		}
	}
}

func TestEnqueueDisabledIsNoop(t *testing.T) {
	f := newFixture(t, config.DispatcherConfig{Disabled: true}, &scriptedSender{})
	ctx := context.Background()

	evt := &domain.Event{Topic: "t", Kind: domain.KindChatMessage, Sequence: 1}
	if err := f.svc.Enqueue(ctx, "carol", evt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	list, _ := f.jobs.List(ctx, store.ListOptions{})
	if list.Total != 0 {
		t.Fatalf("disabled dispatcher must not queue jobs, got %d", list.Total)
	}
}
