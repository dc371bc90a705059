package retry

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the next retry attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows delays by powers of two, capped at Max. When
// Jitter is set, up to that fraction of the computed delay is added at
// random so a burst of failing jobs does not retry in lockstep.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Next returns the delay for the given attempt (1-based).
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << (attempt - 1)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if b.Jitter > 0 {
		spread := float64(delay) * b.Jitter
		delay += time.Duration(rand.Float64() * spread)
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
	return delay
}

// DefaultBackoff returns the default exponential retry policy.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Jitter: 0.2,
	}
}
