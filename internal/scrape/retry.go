package scrape

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy runs an operation up to MaxRetries times with exponential
// backoff: BaseDelay, doubling, capped at MaxDelay. There is no wait after the
// last attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Notify, if set, is called before each backoff wait.
	Notify func(attempt int, err error, wait time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Do returns the number of attempts made and the last error, if every attempt
// failed.
func (r RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	tries := r.MaxRetries
	if tries <= 0 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = r.MaxDelay
	b.RandomizationFactor = 0

	attempts := 0
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		last = op(ctx)
		return struct{}{}, last
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if r.Notify != nil {
				r.Notify(attempts, err, wait)
			}
		}),
	)
	if err == nil {
		return attempts, nil
	}
	if last != nil {
		return attempts, last
	}
	return attempts, err
}
