package membership

import "context"

// Directory is the source of truth for topic membership and capability.
// The engine never stores membership itself; it asks at publish time and
// at subscribe time.
type Directory interface {
	// MembersOf returns the identities subscribed to a topic.
	MembersOf(ctx context.Context, topic string) ([]string, error)

	// CanAccess reports whether the identity may subscribe to the topic.
	CanAccess(ctx context.Context, identity, topic string) (bool, error)

	// InvalidatePushDestination tells the collaborator the identity's push
	// destination token is permanently invalid and must not be reused.
	InvalidatePushDestination(ctx context.Context, identity string) error
}

// Static is an in-memory directory for tests and examples. Not safe for
// concurrent mutation after construction.
type Static struct {
	Members     map[string][]string
	Invalidated []string
}

var _ Directory = (*Static)(nil)

func (s *Static) MembersOf(ctx context.Context, topic string) ([]string, error) {
	return append([]string(nil), s.Members[topic]...), nil
}

func (s *Static) CanAccess(ctx context.Context, identity, topic string) (bool, error) {
	for _, member := range s.Members[topic] {
		if member == identity {
			return true, nil
		}
	}
	return false, nil
}

func (s *Static) InvalidatePushDestination(ctx context.Context, identity string) error {
	s.Invalidated = append(s.Invalidated, identity)
	return nil
}
