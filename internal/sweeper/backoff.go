package sweeper

import (
	"math"
	"math/rand"
	"time"
)

// nextDelay doubles the interval for each consecutive failed pass, capped at
// one hour or the interval itself when that is longer.
func nextDelay(interval time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return interval
	}

	capDelay := max(time.Hour, interval)
	delay := time.Duration(float64(interval) * math.Pow(2, float64(failures)))

	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}

	// small jitter (0–250ms) so replicas do not sweep in lockstep
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
