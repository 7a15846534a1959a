package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 60 * time.Second
)

// ReconnectBudget counts the consecutive failed connection attempts. The delay before the next attempt
// is base * 2^Attempt capped at the max delay. It is reset on every successful open.
type ReconnectBudget struct {
	Attempt   int
	NextDelay time.Duration

	backOff *backoff.ExponentialBackOff
}

func newReconnectBudget(baseDelay, maxDelay time.Duration, clock backoff.Clock) *ReconnectBudget {
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if clock == nil {
		clock = backoff.SystemClock
	}

	b := &ReconnectBudget{
		backOff: &backoff.ExponentialBackOff{
			InitialInterval:     baseDelay,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         maxDelay,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               clock,
		},
	}
	b.Reset()
	return b
}

// Reset forgets the failure streak
func (b *ReconnectBudget) Reset() {
	b.Attempt = 0
	b.backOff.Reset()
	// consume the base interval, the first failure already waits twice as long
	b.NextDelay = b.backOff.NextBackOff()
}

// Failure records a failed attempt and returns the delay to wait before the next one
func (b *ReconnectBudget) Failure() time.Duration {
	b.Attempt++
	b.NextDelay = b.backOff.NextBackOff()
	return b.NextDelay
}
