package outbox

import (
	"math"
	"time"
)

const (
	retryBaseDelay = 3 * time.Second
	retryMaxDelay  = time.Minute
)

// DelayFunc returns how long a delivery waits before it is eligible again,
// given the number of attempts made so far.
type DelayFunc func(attempts int) time.Duration

// ExponentialDelay doubles base for every attempt and caps the result at max:
// base * 2^attempts.
func ExponentialDelay(base, max time.Duration) DelayFunc {
	// shifting past 62 bits would overflow a time.Duration
	var maxShifts uint
	if lg := math.Floor(math.Log2(float64(base))); lg < 62 {
		maxShifts = 62 - uint(lg)
	}

	return func(attempts int) time.Duration {
		if attempts <= 0 {
			return min(base, max)
		}

		n := min(uint(attempts), maxShifts)
		return min(base<<n, max)
	}
}

// RetryDelay is the relay's backoff: min(60s, 3s * 2^attempts).
var RetryDelay = ExponentialDelay(retryBaseDelay, retryMaxDelay)
