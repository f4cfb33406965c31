package channel

import (
	"math/rand"
	"time"
)

// ReconnectPolicy controls the automatic reconnect cadence: exponential
// backoff with jitter and a capped number of attempts. The zero value is
// unusable; use DefaultReconnectPolicy or fill every field.
type ReconnectPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64
	MaxAttempts    int
}

// DefaultReconnectPolicy matches the config package defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
		MaxAttempts:    10,
	}
}

// Delay returns how long to wait before reconnect attempt n (0-based).
// The exponential curve is capped at MaxBackoff, then jittered by up to
// ±JitterFraction so a fleet of clients does not thunder back in lockstep.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff >= float64(p.MaxBackoff) {
			backoff = float64(p.MaxBackoff)
			break
		}
	}
	if p.JitterFraction > 0 {
		delta := backoff * p.JitterFraction
		backoff = backoff - delta + rand.Float64()*2*delta
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
