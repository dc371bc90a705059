package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidToken is returned for unknown, expired, or revoked tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Validator resolves a connect token to an identity. The engine never mints
// tokens; the host application owns the credential lifecycle.
type Validator interface {
	Validate(ctx context.Context, token string) (identity string, err error)
}

// Revoker permanently invalidates every token of an identity. Revocation is
// idempotent: revoking an already revoked identity succeeds.
type Revoker interface {
	Revoke(ctx context.Context, identity string) error
}

// Static is an in-memory token table for tests and examples.
type Static struct {
	mu      sync.Mutex
	Tokens  map[string]string
	revoked map[string]struct{}
}

var (
	_ Validator = (*Static)(nil)
	_ Revoker   = (*Static)(nil)
)

func (s *Static) Validate(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.Tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	if _, gone := s.revoked[identity]; gone {
		return "", ErrInvalidToken
	}
	return identity, nil
}

func (s *Static) Revoke(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked == nil {
		s.revoked = make(map[string]struct{})
	}
	s.revoked[identity] = struct{}{}
	return nil
}

// Revoked reports whether the identity's tokens were revoked.
func (s *Static) Revoked(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[identity]
	return ok
}
