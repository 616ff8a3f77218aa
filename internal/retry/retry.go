// Package retry provides a bounded retry policy with a fixed interval
// between attempts, shared by every external dependency probe.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded retry schedule: up to MaxAttempts calls
// separated by Interval. A Policy value is immutable and safe to share.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Do invokes op until it succeeds, the attempt budget is exhausted, or ctx
// is cancelled. The last error is returned when all attempts fail.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, b)
}
