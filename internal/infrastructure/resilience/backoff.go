package resilience

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays that grow exponentially with the attempt
// number, capped at Cap, with up to Jitter of randomization added so that
// many clients reconnecting at once do not retry in lockstep.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds the exponential growth.
	Cap time.Duration
	// Jitter is the maximum random addition to each delay.
	Jitter time.Duration
	// MaxAttempts bounds automatic retries; 0 means unlimited.
	MaxAttempts int
}

// DefaultBackoff returns the reconnection policy used by the client engine:
// 1s base doubling up to 30s, with up to 1s of jitter, for at most 20
// automatic attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Cap:         30 * time.Second,
		Jitter:      time.Second,
		MaxAttempts: 20,
	}
}

// Delay returns the wait before the given attempt (1-based):
// min(Base * 2^(attempt-1), Cap) plus random jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}

	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Exhausted reports whether the attempt budget is spent.
func (b Backoff) Exhausted(attempts int) bool {
	return b.MaxAttempts > 0 && attempts >= b.MaxAttempts
}
