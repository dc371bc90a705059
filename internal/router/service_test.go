package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/eventlog"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/storage/memory"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	online map[string]bool
	sent   []string
}

func (c *captureBroadcaster) SendTo(ctx context.Context, identity string, evt *domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online[identity] {
		return false
	}
	c.sent = append(c.sent, identity)
	return true
}

type captureQueue struct {
	mu       sync.Mutex
	enqueued []string
	fail     map[string]error
}

func (c *captureQueue) Enqueue(ctx context.Context, identity string, evt *domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[identity]; err != nil {
		return err
	}
	c.enqueued = append(c.enqueued, identity)
	return nil
}

func newTestRouter(t *testing.T, dir membership.Directory, live *captureBroadcaster, queue *captureQueue) *Service {
	t.Helper()
	log, err := eventlog.New(eventlog.Dependencies{
		Events: memory.NewEventRepository(),
		Acks:   memory.NewClientAckRepository(),
		Config: config.LogConfig{},
	})
	if err != nil {
		t.Fatalf("eventlog: %v", err)
	}
	svc, err := New(Dependencies{Log: log, Directory: dir, Broadcaster: live, Queue: queue})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return svc
}

func TestPublishFansOutToOnlineAndQueuesOffline(t *testing.T) {
	dir := &membership.Static{Members: map[string][]string{
		"group:1": {"alice", "bob", "carol"},
	}}
	live := &captureBroadcaster{online: map[string]bool{"alice": true, "bob": true}}
	queue := &captureQueue{}
	svc := newTestRouter(t, dir, live, queue)

	evt, err := svc.Publish(context.Background(), "group:1", domain.KindPlanStatus, domain.JSONMap{"status": "confirmed"}, "alice")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evt.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", evt.Sequence)
	}

	// Plan status changes are not echo suppressed, so the origin gets a
	// live copy too.
	if len(live.sent) != 2 {
		t.Fatalf("expected 2 live deliveries, got %v", live.sent)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "carol" {
		t.Fatalf("expected carol queued, got %v", queue.enqueued)
	}
}

func TestPublishSuppressesChatEchoToOrigin(t *testing.T) {
	dir := &membership.Static{Members: map[string][]string{
		"group:1": {"alice", "bob"},
	}}
	live := &captureBroadcaster{online: map[string]bool{"alice": true, "bob": true}}
	queue := &captureQueue{}
	svc := newTestRouter(t, dir, live, queue)

	if _, err := svc.Publish(context.Background(), "group:1", domain.KindChatMessage, domain.JSONMap{"text": "hi"}, "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(live.sent) != 1 || live.sent[0] != "bob" {
		t.Fatalf("expected only bob to get a live copy, got %v", live.sent)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("origin must not be queued either, got %v", queue.enqueued)
	}
}

func TestPublishOfflineOriginNotQueuedForOwnChat(t *testing.T) {
	dir := &membership.Static{Members: map[string][]string{
		"group:1": {"alice", "bob"},
	}}
	live := &captureBroadcaster{online: map[string]bool{}}
	queue := &captureQueue{}
	svc := newTestRouter(t, dir, live, queue)

	if _, err := svc.Publish(context.Background(), "group:1", domain.KindChatMessage, nil, "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "bob" {
		t.Fatalf("expected only bob queued, got %v", queue.enqueued)
	}
}

func TestPublishRecipientFailureIsolated(t *testing.T) {
	dir := &membership.Static{Members: map[string][]string{
		"group:1": {"alice", "bob", "carol"},
	}}
	live := &captureBroadcaster{online: map[string]bool{}}
	queue := &captureQueue{fail: map[string]error{"bob": errors.New("boom")}}
	svc := newTestRouter(t, dir, live, queue)

	evt, err := svc.Publish(context.Background(), "group:1", domain.KindGroupMember, domain.JSONMap{"member": "dave"}, "alice")
	if err != nil {
		t.Fatalf("publish must not fail on a single recipient: %v", err)
	}
	if evt == nil {
		t.Fatal("event must still be returned")
	}
	if len(queue.enqueued) != 2 {
		t.Fatalf("alice and carol must still be queued, got %v", queue.enqueued)
	}
}

type stubPresence struct {
	online map[string]bool
}

func (p *stubPresence) IsOnline(identity string) bool {
	return p.online[identity]
}

func TestPublishGraceWindowSkipsDurableQueue(t *testing.T) {
	dir := &membership.Static{Members: map[string][]string{
		"group:1": {"alice", "bob"},
	}}
	// Alice's connection just dropped: no live socket accepts the frame,
	// but presence still reports her online for the grace window. Bob is
	// fully offline.
	live := &captureBroadcaster{online: map[string]bool{}}
	queue := &captureQueue{}
	presence := &stubPresence{online: map[string]bool{"alice": true}}

	log, err := eventlog.New(eventlog.Dependencies{
		Events: memory.NewEventRepository(),
		Acks:   memory.NewClientAckRepository(),
		Config: config.LogConfig{},
	})
	if err != nil {
		t.Fatalf("eventlog: %v", err)
	}
	svc, err := New(Dependencies{Log: log, Directory: dir, Broadcaster: live, Queue: queue, Presence: presence})
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	if _, err := svc.Publish(context.Background(), "group:1", domain.KindPlanStatus, domain.JSONMap{"status": "active"}, "carol"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "bob" {
		t.Fatalf("alice reconnects and replays; only bob should be queued, got %v", queue.enqueued)
	}
}

type failingDirectory struct {
	membership.Static
}

func (f *failingDirectory) MembersOf(ctx context.Context, topic string) ([]string, error) {
	return nil, errors.New("directory down")
}

func TestPublishDurableEvenWhenDirectoryFails(t *testing.T) {
	live := &captureBroadcaster{online: map[string]bool{}}
	queue := &captureQueue{}
	svc := newTestRouter(t, &failingDirectory{}, live, queue)

	evt, err := svc.Publish(context.Background(), "group:1", domain.KindChatMessage, nil, "alice")
	if err != nil {
		t.Fatalf("append succeeded, publish must be acknowledged: %v", err)
	}
	if evt.Sequence != 1 {
		t.Fatalf("expected durable event with sequence 1, got %d", evt.Sequence)
	}
	if len(queue.enqueued) != 0 || len(live.sent) != 0 {
		t.Fatal("no fan-out should happen when membership is unavailable")
	}
}
