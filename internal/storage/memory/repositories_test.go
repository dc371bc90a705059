package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
)

func TestEventAppendAssignsMonotonicSequences(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		evt := &domain.Event{Topic: "group:1", Kind: domain.KindChatMessage}
		if err := repo.Append(ctx, evt); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if evt.Sequence != uint64(i) {
			t.Fatalf("expected sequence %d, got %d", i, evt.Sequence)
		}
	}

	// A second topic gets its own counter.
	other := &domain.Event{Topic: "group:2", Kind: domain.KindChatMessage}
	if err := repo.Append(ctx, other); err != nil {
		t.Fatalf("append other topic: %v", err)
	}
	if other.Sequence != 1 {
		t.Fatalf("expected sequence 1 on fresh topic, got %d", other.Sequence)
	}
}

func TestEventAppendConcurrentNoGapsNoDuplicates(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				evt := &domain.Event{Topic: "group:1", Kind: domain.KindChatMessage}
				if err := repo.Append(ctx, evt); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	events, err := repo.ListSince(ctx, "group:1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Fatalf("expected %d events, got %d", writers*perWriter, len(events))
	}
	for i, evt := range events {
		if evt.Sequence != uint64(i+1) {
			t.Fatalf("sequence gap or duplicate at index %d: got %d", i, evt.Sequence)
		}
	}
}

func TestEventListSinceAndPrune(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := repo.Append(ctx, &domain.Event{Topic: "t", Kind: domain.KindChatMessage}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := repo.ListSince(ctx, "t", 7, 0)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(events) != 3 || events[0].Sequence != 8 {
		t.Fatalf("expected [8 9 10], got %d events starting at %d", len(events), events[0].Sequence)
	}

	removed, err := repo.Prune(ctx, "t", 4, time.Time{})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 pruned, got %d", removed)
	}
	oldest, _ := repo.OldestSequence(ctx, "t")
	if oldest != 5 {
		t.Fatalf("expected oldest 5 after prune, got %d", oldest)
	}
	head, _ := repo.HeadSequence(ctx, "t")
	if head != 10 {
		t.Fatalf("pruning must not move the head, got %d", head)
	}
}

func TestDeliveryJobCreateDedup(t *testing.T) {
	repo := NewDeliveryJobRepository()
	ctx := context.Background()

	job := &domain.DeliveryJob{Identity: "alice", Topic: "t", Sequence: 3}
	created, err := repo.CreateDedup(ctx, job)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first create should report created")
	}

	dup := &domain.DeliveryJob{Identity: "alice", Topic: "t", Sequence: 3}
	created, err = repo.CreateDedup(ctx, dup)
	if err != nil {
		t.Fatalf("dup create: %v", err)
	}
	if created {
		t.Fatal("duplicate (identity, topic, sequence) must not create a second job")
	}

	other := &domain.DeliveryJob{Identity: "alice", Topic: "t", Sequence: 4}
	if created, _ = repo.CreateDedup(ctx, other); !created {
		t.Fatal("different sequence should create a new job")
	}
}

func TestDeliveryJobListDueOrdering(t *testing.T) {
	repo := NewDeliveryJobRepository()
	ctx := context.Background()
	now := time.Now()

	late := &domain.DeliveryJob{Identity: "a", Topic: "t", Sequence: 1, NextAttemptAt: now.Add(-time.Second)}
	early := &domain.DeliveryJob{Identity: "b", Topic: "t", Sequence: 2, NextAttemptAt: now.Add(-time.Minute)}
	future := &domain.DeliveryJob{Identity: "c", Topic: "t", Sequence: 3, NextAttemptAt: now.Add(time.Hour)}
	for _, j := range []*domain.DeliveryJob{late, early, future} {
		if _, err := repo.CreateDedup(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	due, err := repo.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(due))
	}
	if due[0].Identity != "b" || due[1].Identity != "a" {
		t.Fatalf("expected oldest next-attempt first, got %s then %s", due[0].Identity, due[1].Identity)
	}
}

func TestClientAckFloorNeverLowers(t *testing.T) {
	repo := NewClientAckRepository()
	ctx := context.Background()

	if err := repo.Upsert(ctx, &domain.ClientAck{Identity: "alice", Topic: "t", Sequence: 7}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, &domain.ClientAck{Identity: "alice", Topic: "t", Sequence: 3}); err != nil {
		t.Fatalf("upsert lower: %v", err)
	}

	floor, err := repo.Get(ctx, "alice", "t")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if floor != 7 {
		t.Fatalf("floor must not lower, got %d", floor)
	}
}

func TestLowestOutstandingAck(t *testing.T) {
	repo := NewClientAckRepository()
	ctx := context.Background()

	if _, ok, _ := repo.LowestOutstanding(ctx, "t"); ok {
		t.Fatal("no acks yet, ok must be false")
	}

	repo.Upsert(ctx, &domain.ClientAck{Identity: "alice", Topic: "t", Sequence: 9})
	repo.Upsert(ctx, &domain.ClientAck{Identity: "bob", Topic: "t", Sequence: 4})

	lowest, ok, err := repo.LowestOutstanding(ctx, "t")
	if err != nil {
		t.Fatalf("lowest: %v", err)
	}
	if !ok || lowest != 4 {
		t.Fatalf("expected lowest 4, got %d ok=%v", lowest, ok)
	}
}
