package executor

import (
	"math/rand/v2"
	"time"
)

// Default retry backoff bounds.
const (
	DefaultRetryBackoffInitial = 500 * time.Millisecond
	DefaultRetryBackoffMax     = 10 * time.Second
	backoffMultiplier          = 2.0
)

// backoffDelay computes the delay before retry attempt n (1-based) using
// exponential backoff with full jitter: random between 0 and the calculated
// backoff, so concurrent retries spread out instead of stampeding the
// pipeline. Thread-safe via math/rand/v2.
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	if initial <= 0 {
		initial = DefaultRetryBackoffInitial
	}
	if maxDelay <= 0 {
		maxDelay = DefaultRetryBackoffMax
	}

	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * backoffMultiplier)
		if backoff > maxDelay {
			backoff = maxDelay
			break
		}
	}

	jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
	return time.Duration(jitterMs) * time.Millisecond
}
