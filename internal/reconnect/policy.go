// Package reconnect computes retry delays for re-establishing lost
// connections. The policy is a pure function of the attempt number, so the
// schedule restarts from the initial delay whenever the caller resets its
// attempt counter.
package reconnect

import (
	"math"
	"math/rand/v2"
	"time"
)

// Defaults chosen to back off quickly past transient blips without keeping
// the operator waiting more than half a minute between attempts.
const (
	DefaultInitialDelay   = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitterFraction = 0.1
)

// Policy describes an exponential backoff schedule with multiplicative
// jitter. The zero value is not usable; construct with NewPolicy or fill all
// fields.
type Policy struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// NewPolicy returns a policy with the default schedule.
func NewPolicy() Policy {
	return Policy{
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// DelayForAttempt returns the wait before reconnect attempt number attempt
// (zero-based). The base delay is InitialDelay * Multiplier^attempt, capped
// at MaxDelay, then scaled by a random factor in
// [1-JitterFraction, 1+JitterFraction]. The result is always positive.
func (p Policy) DelayForAttempt(attempt uint32) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))

	max := float64(p.MaxDelay)
	if base > max || math.IsInf(base, 1) {
		base = max
	}

	if p.JitterFraction > 0 {
		factor := 1 + p.JitterFraction*(2*rand.Float64()-1)
		base *= factor
	}

	d := time.Duration(base)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
