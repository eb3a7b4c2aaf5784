// Package backoff implements the fixed retry schedule shared by every
// venue gateway: delay_n = min(initial * factor^n, max), capped at a
// maximum retry count.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule describes an exponential backoff schedule.
type Schedule struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	MaxRetries int
}

// DefaultSchedule matches the venue gateway's documented constants:
// 1s initial, factor 2, 64s cap, 7 retries.
var DefaultSchedule = Schedule{
	Initial:    1 * time.Second,
	Factor:     2,
	Max:        64 * time.Second,
	MaxRetries: 7,
}

// Delay is the pure, stateless form of the schedule: delay for the n-th
// retry (n starting at 0), with no jitter and no I/O. Kept separate from
// the cenkalti/backoff state machine so the schedule itself is unit
// testable without driving real attempts.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(s.Initial)
	for i := 0; i < attempt; i++ {
		d *= s.Factor
		if time.Duration(d) >= s.Max {
			return s.Max
		}
	}
	out := time.Duration(d)
	if out > s.Max {
		return s.Max
	}
	return out
}

// NewExponential builds a cenkalti/backoff ExponentialBackOff configured
// to this schedule, wrapped with the retry-count ceiling. Used by the
// venue gateway's retry loop to drive real attempts; Delay above is used
// by tests that assert the schedule without performing I/O.
func (s Schedule) NewExponential() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.Initial
	eb.Multiplier = s.Factor
	eb.MaxInterval = s.Max
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(s.MaxRetries))
}
