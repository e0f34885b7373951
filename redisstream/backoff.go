package redisstream

import (
	"context"
	"time"
)

// backoff tracks consecutive consumer errors and computes the wait before
// the next attempt: base multiplied by the attempt count, capped. The
// growth is linear, not exponential; the cap is reached within a few
// attempts either way and the pacing matches what operators already know
// from the previous consumer. Once the attempt budget is exhausted next
// reports failure and the consumer stops. It is a plain state machine so
// tests can drive it without sleeping.
type backoff struct {
	base time.Duration
	cap  time.Duration
	max  int

	attempts int
}

func newBackoff(base, cap time.Duration, max int) *backoff {
	return &backoff{base: base, cap: cap, max: max}
}

// next records one more consecutive error. It returns the wait before the
// next attempt and false once the budget is exhausted.
func (b *backoff) next() (time.Duration, bool) {
	b.attempts++
	if b.attempts >= b.max {
		return 0, false
	}
	d := time.Duration(b.attempts) * b.base
	if d > b.cap {
		d = b.cap
	}
	return d, true
}

// reset clears the consecutive-error count after a successful read.
func (b *backoff) reset() { b.attempts = 0 }

// sleepFunc waits for d or until the context is done. Injectable so tests
// run the consumer's retry path deterministically.
type sleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
