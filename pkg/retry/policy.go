// Package retry wraps single provider calls with bounded attempts and
// exponential backoff.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy bounds the attempts made for one chunk.
type Policy struct {
	// MaxRetries is the total number of attempts. Values below 1 mean 1.
	MaxRetries int
	// BaseDelay is the sleep after the first failure. Zero defers to the
	// provider's declared RetryDelay.
	BaseDelay time.Duration
	// MaxDelay caps a single sleep. Zero leaves it uncapped.
	MaxDelay time.Duration
	// AttemptTimeout bounds one provider call. Zero disables it.
	AttemptTimeout time.Duration
	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
}

// DefaultPolicy returns three attempts with provider-declared delays.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		MaxDelay:       time.Minute,
		AttemptTimeout: 2 * time.Minute,
	}
}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// Delay returns the sleep after the zero-based failed attempt:
// BaseDelay * 2^attempt, capped by MaxDelay, plus jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}

// withBase fills an unset BaseDelay from the provider hint.
func (p Policy) withBase(hint time.Duration) Policy {
	if p.BaseDelay > 0 {
		return p
	}
	if hint > 0 {
		p.BaseDelay = hint
	} else {
		p.BaseDelay = time.Second
	}
	return p
}
