package memory

import (
	"context"
	"sync"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// ClientAckRepository tracks per-client replay floors in process memory.
type ClientAckRepository struct {
	mu    sync.RWMutex
	acks  map[string]map[string]domain.ClientAck // identity -> topic -> ack
	topic map[string]map[string]struct{}         // topic -> identities
}

var _ store.ClientAckRepository = (*ClientAckRepository)(nil)

func NewClientAckRepository() *ClientAckRepository {
	return &ClientAckRepository{
		acks:  make(map[string]map[string]domain.ClientAck),
		topic: make(map[string]map[string]struct{}),
	}
}

func (r *ClientAckRepository) Upsert(ctx context.Context, ack *domain.ClientAck) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTopic, ok := r.acks[ack.Identity]
	if !ok {
		byTopic = make(map[string]domain.ClientAck)
		r.acks[ack.Identity] = byTopic
	}
	if existing, ok := byTopic[ack.Topic]; ok && existing.Sequence >= ack.Sequence {
		return nil
	}
	byTopic[ack.Topic] = *ack

	members, ok := r.topic[ack.Topic]
	if !ok {
		members = make(map[string]struct{})
		r.topic[ack.Topic] = members
	}
	members[ack.Identity] = struct{}{}
	return nil
}

func (r *ClientAckRepository) Get(ctx context.Context, identity, topic string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if byTopic, ok := r.acks[identity]; ok {
		if ack, ok := byTopic[topic]; ok {
			return ack.Sequence, nil
		}
	}
	return 0, nil
}

func (r *ClientAckRepository) LowestOutstanding(ctx context.Context, topic string) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.topic[topic]
	if !ok || len(members) == 0 {
		return 0, false, nil
	}
	var lowest uint64
	first := true
	for identity := range members {
		ack := r.acks[identity][topic]
		if first || ack.Sequence < lowest {
			lowest = ack.Sequence
			first = false
		}
	}
	return lowest, true, nil
}
