package rag

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of remote calls: a fixed number of attempts
// with exponential backoff between them. The zero value is not usable; use
// DefaultRetryPolicy or construct explicitly.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts uint64

	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between retries.
	Max time.Duration
}

// DefaultRetryPolicy matches the operational defaults: three attempts with
// exponential backoff starting at 4s and capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 4 * time.Second, Max: 10 * time.Second}
}

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. Cancellation is not retried. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max

	wrapped := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, p.Attempts-1), ctx))
}
