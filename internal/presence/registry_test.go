package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
)

func testConfig() config.PresenceConfig {
	return config.PresenceConfig{
		GraceWindow:   5 * time.Second,
		SweepInterval: time.Second,
		StaleAfter:    time.Minute,
		Shards:        8,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	r := New(testConfig(), nil)
	now := time.Now()
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegisterMakesIdentityOnline(t *testing.T) {
	r, _ := newTestRegistry(t)

	if r.IsOnline("alice") {
		t.Fatal("alice should start offline")
	}
	r.Register("alice", "conn-1")
	if !r.IsOnline("alice") {
		t.Fatal("alice should be online after register")
	}
	if got := r.ConnectionsFor("alice"); len(got) != 1 || got[0] != "conn-1" {
		t.Fatalf("unexpected handles %v", got)
	}
}

func TestRegisterIsIdempotentPerHandle(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Register("alice", "conn-1")
	r.Register("alice", "conn-1")
	if got := len(r.ConnectionsFor("alice")); got != 1 {
		t.Fatalf("expected 1 handle, got %d", got)
	}
}

func TestUnregisterKeepsGraceWindow(t *testing.T) {
	r, now := newTestRegistry(t)

	r.Register("alice", "conn-1")
	r.Unregister("alice", "conn-1")

	if !r.IsOnline("alice") {
		t.Fatal("alice should remain online during grace window")
	}

	*now = now.Add(6 * time.Second)
	if r.IsOnline("alice") {
		t.Fatal("alice should be offline after grace window expires")
	}
}

func TestReconnectDuringGraceCancelsOffline(t *testing.T) {
	r, now := newTestRegistry(t)

	r.Register("alice", "conn-1")
	r.Unregister("alice", "conn-1")
	r.Register("alice", "conn-2")

	*now = now.Add(time.Hour)
	r.Heartbeat("alice")
	if !r.IsOnline("alice") {
		t.Fatal("alice reconnected inside grace window, should stay online")
	}
}

func TestSweepEvictsExpiredAndStale(t *testing.T) {
	r, now := newTestRegistry(t)

	r.Register("gone", "conn-1")
	r.Unregister("gone", "conn-1")

	r.Register("silent", "conn-2")

	*now = now.Add(2 * time.Minute)
	evicted := r.Sweep()
	if evicted != 2 {
		t.Fatalf("expected 2 evictions, got %d", evicted)
	}
	if r.IsOnline("gone") || r.IsOnline("silent") {
		t.Fatal("swept identities should be offline")
	}
}

func TestHeartbeatDefersStaleEviction(t *testing.T) {
	r, now := newTestRegistry(t)

	r.Register("alice", "conn-1")
	*now = now.Add(50 * time.Second)
	r.Heartbeat("alice")
	*now = now.Add(50 * time.Second)

	if got := r.Sweep(); got != 0 {
		t.Fatalf("heartbeat within stale window, expected 0 evictions, got %d", got)
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should survive sweep after heartbeat")
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New(testConfig(), nil)

	var wg sync.WaitGroup
	identities := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range identities {
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(identity string, n int) {
				defer wg.Done()
				handle := identity + "-conn"
				r.Register(identity, handle)
				r.Heartbeat(identity)
				_ = r.IsOnline(identity)
				_ = r.ConnectionsFor(identity)
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range identities {
		if !r.IsOnline(id) {
			t.Fatalf("identity %s should be online", id)
		}
	}
}
