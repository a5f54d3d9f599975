package campaign

import (
	"context"
	"math/rand"
	"time"

	"voiceagent-platform/internal/provider"
)

// RetryPolicy is the explicit retry contract applied by the placement task
// scheduler: transient errors back off and retry up to the ceiling, permanent
// errors fail the attempt immediately, cancellation stops without failing.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter is the fraction of the computed delay randomized away (0..1) so
	// racing workers do not retry in lockstep.
	Jitter float64
}

// DefaultRetryPolicy matches the placement task ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Delay computes the backoff before the given 1-based attempt number.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay << uint(attempt-2)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread*rand.Float64())
	}
	return d
}

// Do runs fn up to MaxAttempts times, classifying each failure. It returns
// nil on the first success, the last error once attempts are exhausted or
// the error is permanent, and ctx.Err() on cancellation.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if wait := p.Delay(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		switch provider.Classify(err) {
		case provider.ClassPermanent:
			return err
		case provider.ClassCanceled:
			return err
		}
		// transient: loop
	}
	return err
}
