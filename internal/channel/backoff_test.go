package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicyDelayGrowsAndCaps(t *testing.T) {
	p := ReconnectPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		MaxAttempts:    10,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(20), "capped at MaxBackoff")
}

func TestReconnectPolicyJitterBounds(t *testing.T) {
	p := DefaultReconnectPolicy()

	for attempt := 0; attempt < 8; attempt++ {
		base := ReconnectPolicy{
			InitialBackoff: p.InitialBackoff,
			MaxBackoff:     p.MaxBackoff,
			Multiplier:     p.Multiplier,
			MaxAttempts:    p.MaxAttempts,
		}.Delay(attempt)
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			// Small slack for float rounding at the bounds.
			lo := time.Duration(float64(base)*(1-p.JitterFraction)) - time.Millisecond
			hi := time.Duration(float64(base)*(1+p.JitterFraction)) + time.Millisecond
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}
