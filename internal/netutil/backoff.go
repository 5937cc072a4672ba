// Package netutil provides network helpers.
package netutil

import (
	"time"
)

// Backoff yields exponentially growing delays between retries, capped at
// a maximum. It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	factor  uint32
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff starting at initial and multiplying by
// factor on every attempt.
func NewBackoff(initial, max time.Duration, factor uint32) *Backoff {
	if factor < 1 {
		factor = 1
	}
	return &Backoff{
		initial: initial,
		factor:  factor,
		max:     max,
	}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= time.Duration(b.factor)
	}
	if b.max > 0 && b.current > b.max {
		b.current = b.max
	}
	return b.current
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.current = 0
}
