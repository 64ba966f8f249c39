package queue

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the backoff.
	DefaultMaxDelay = 5 * time.Minute

	// DefaultMaxAttempts bounds attempts per job, including the first.
	DefaultMaxAttempts = 5

	// jitterDivisor gives ±10% jitter.
	jitterDivisor = 10
)

// Backoff computes exponential retry delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the retry that follows attempt number
// attempts (1-based): Base * 2^(attempts-1), capped at Max, with jitter.
func (b Backoff) Delay(attempts int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}

	if jitterRange := delay / jitterDivisor; jitterRange > 0 {
		delay = delay - jitterRange/2 + rand.N(jitterRange)
	}
	return delay
}
