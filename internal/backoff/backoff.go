// Package backoff computes exponential retry delays with proportional jitter.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultJitter is the fraction by which a delay is randomized in either direction.
const DefaultJitter = 0.25

const maxShift = 30

// Policy yields Base*2^attempt, capped at Max when Max > 0, then jittered by
// ±Jitter. Rand returns a value in [0,1); nil means math/rand/v2.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	Rand   func() float64
}

// Nominal returns the un-jittered delay for attempt (0-based).
func (p Policy) Nominal(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	d := p.Base * time.Duration(1<<uint(attempt))
	if d < p.Base {
		d = p.Base
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Delay returns the jittered delay for attempt, within
// [Nominal*(1-Jitter), Nominal*(1+Jitter)].
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Nominal(attempt)
	if d <= 0 || p.Jitter <= 0 {
		return d
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	factor := 1 + p.Jitter*(2*rnd()-1)
	return time.Duration(float64(d) * factor)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
