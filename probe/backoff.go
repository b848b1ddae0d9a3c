package probe

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	DefaultBackoffInitial    = 500 * time.Millisecond
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Backoff computes exponentially growing delays between reconnect attempts.
// Zero fields take the package defaults.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter adds up to 25% random delay.
	Jitter bool
}

// Delay returns the wait before the attempt following the given one (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = DefaultBackoffMultiplier
	}

	delay := time.Duration(float64(initial) * math.Pow(mult, float64(attempt-1)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if b.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	return delay
}
