package health

import (
	"math/rand"
	"time"
)

// BackoffConfig holds the recovery probing schedule.
type BackoffConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = 20%
}

// delay returns the wait before recovery attempt n (1-based) with jitter applied.
func (c BackoffConfig) delay(attempt int) time.Duration {
	backoff := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
		if c.MaxDelay > 0 && backoff >= float64(c.MaxDelay) {
			backoff = float64(c.MaxDelay)
			break
		}
	}

	// Apply jitter: backoff * (1.0 + random(0, jitterPercent))
	jitter := rand.Float64() * c.JitterPercent
	return time.Duration(backoff * (1.0 + jitter))
}
