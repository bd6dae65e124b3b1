package pipe

import (
	"time"

	"github.com/cenkalti/backoff"
)

// clockFunc adapts a time source to backoff.Clock.
type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// newRetrySchedule returns the retransmission schedule of one frame:
// base, 2*base, 4*base, ... for maxRetries retransmissions plus one
// final grace period, then backoff.Stop.
func newRetrySchedule(base time.Duration, maxRetries int, now func() time.Time) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         base << uint(maxRetries+1),
		MaxElapsedTime:      0,
		Clock:               clockFunc(now),
	}
	b := backoff.WithMaxRetries(exp, uint64(maxRetries)+1)
	b.Reset()
	return b
}
