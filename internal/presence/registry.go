package presence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
)

// Registry tracks which identities currently hold at least one live
// connection. State is sharded by identity so concurrent connects on
// different users never contend on one lock. Registry operations never
// return domain errors; the worst case is a stale entry, corrected by the
// next sweep.
type Registry struct {
	shards []*shard
	cfg    config.PresenceConfig
	logger logger.Logger
	now    func() time.Time

	done chan struct{}
	once sync.Once
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	handles  map[string]struct{}
	lastSeen time.Time
	// offlineAt is the grace deadline set when the last handle unregisters.
	// Zero while any handle remains.
	offlineAt time.Time
}

// New builds a registry with the configured shard count.
func New(cfg config.PresenceConfig, lgr logger.Logger) *Registry {
	if lgr == nil {
		lgr = &logger.Nop{}
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return &Registry{
		shards: shards,
		cfg:    cfg,
		logger: lgr,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

func (r *Registry) shardFor(identity string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return r.shards[int(h.Sum32())%len(r.shards)]
}

// Register adds the connection handle under the identity. Idempotent per
// handle; re-registering an existing handle only refreshes liveness.
func (r *Registry) Register(identity, handle string) {
	s := r.shardFor(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identity]
	if !ok {
		e = &entry{handles: make(map[string]struct{})}
		s.entries[identity] = e
	}
	e.handles[handle] = struct{}{}
	e.lastSeen = r.now()
	e.offlineAt = time.Time{}
}

// Unregister removes the handle. When the identity's last handle goes away
// the entry is not removed immediately; it lingers for the grace window so
// rapid reconnects from network flaps don't trigger notification storms.
func (r *Registry) Unregister(identity, handle string) {
	s := r.shardFor(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identity]
	if !ok {
		return
	}
	delete(e.handles, handle)
	if len(e.handles) == 0 {
		e.offlineAt = r.now().Add(r.cfg.GraceWindow)
	}
}

// Heartbeat refreshes liveness for every entry holding the handle's
// identity. Lost heartbeats eventually evict the entry via Sweep.
func (r *Registry) Heartbeat(identity string) {
	s := r.shardFor(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[identity]; ok {
		e.lastSeen = r.now()
	}
}

// IsOnline reports whether the identity has at least one live handle, or is
// still inside its reconnect grace window.
func (r *Registry) IsOnline(identity string) bool {
	s := r.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[identity]
	if !ok {
		return false
	}
	if len(e.handles) > 0 {
		return true
	}
	return r.now().Before(e.offlineAt)
}

// ConnectionsFor returns the identity's live handles. The returned slice is
// a copy; callers may retain it.
func (r *Registry) ConnectionsFor(identity string) []string {
	s := r.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[identity]
	if !ok {
		return nil
	}
	handles := make([]string, 0, len(e.handles))
	for h := range e.handles {
		handles = append(handles, h)
	}
	return handles
}

// Sweep removes entries whose grace window expired and entries with no
// heartbeat inside StaleAfter, converging presence to ground truth even
// when disconnect signals were lost. Returns how many entries it evicted.
func (r *Registry) Sweep() int {
	now := r.now()
	evicted := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for identity, e := range s.entries {
			expiredGrace := len(e.handles) == 0 && !now.Before(e.offlineAt)
			stale := r.cfg.StaleAfter > 0 && now.Sub(e.lastSeen) > r.cfg.StaleAfter
			if expiredGrace || stale {
				delete(s.entries, identity)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		r.logger.Debug("presence sweep evicted entries", logger.Field{Key: "count", Value: evicted})
	}
	return evicted
}

// Run sweeps on the configured interval until the context is cancelled or
// Close is called.
func (r *Registry) Run(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// Close stops the background sweep loop.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}
