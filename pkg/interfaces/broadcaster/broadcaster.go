package broadcaster

import (
	"context"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
)

// Broadcaster pushes a logged event to every live connection of one
// identity. The connection hub is the production implementation.
type Broadcaster interface {
	// SendTo returns true when at least one connection accepted the frame.
	// False means every connection dropped it (or none exist) and the
	// caller should degrade to durable delivery.
	SendTo(ctx context.Context, identity string, evt *domain.Event) bool
}

// Nop broadcaster reports every send as dropped.
type Nop struct{}

var _ Broadcaster = (*Nop)(nil)

func (n *Nop) SendTo(ctx context.Context, identity string, evt *domain.Event) bool { return false }
