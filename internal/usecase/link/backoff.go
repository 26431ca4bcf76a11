package link

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base * Factor^(attempt-1) capped at Max,
// plus a uniform random fraction of up to Jitter on top.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	rand func() float64
}

// DefaultBackoff returns 3s doubling up to 60s with 25% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: 3 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: 0.25}
}

// Delay is the un-jittered delay for the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Next is Delay plus jitter. The result lies in [Delay, Delay*(1+Jitter)].
func (b Backoff) Next(attempt int) time.Duration {
	d := b.Delay(attempt)
	if b.Jitter <= 0 {
		return d
	}
	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(r()*b.Jitter*float64(d))
}
