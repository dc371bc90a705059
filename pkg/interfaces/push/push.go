package push

import "context"

// Outcome classifies one push delivery attempt.
type Outcome int

const (
	// Delivered means the provider accepted the notification.
	Delivered Outcome = iota
	// TransientFailure means the attempt may be retried with backoff.
	TransientFailure
	// PermanentFailure means the destination is invalid; retries are
	// pointless and the destination should be invalidated upstream.
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Notification is the provider-agnostic push payload.
type Notification struct {
	Identity string
	Title    string
	Body     string
	Data     map[string]any
}

// Sender delivers push notifications through an external provider.
type Sender interface {
	Deliver(ctx context.Context, n Notification) (Outcome, error)
}

// Nop accepts every notification without delivering anything.
type Nop struct{}

var _ Sender = (*Nop)(nil)

func (n *Nop) Deliver(ctx context.Context, _ Notification) (Outcome, error) {
	return Delivered, nil
}
