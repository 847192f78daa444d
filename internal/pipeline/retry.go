package pipeline

import (
	"context"
	"time"

	"github.com/docuflow-ai/docuflow/internal/core"
)

// RetryPolicy is the explicit retry value shared by the queue and the
// embedding stage's batch calls: max attempts, exponential backoff and a
// predicate for which errors are worth retrying. Keeping retry behavior in
// one value makes it testable instead of scattered error handling.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transient failures up to 3 times with a 2s
// exponential backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
		Retryable:   core.IsRetryable,
	}
}

// Backoff returns the delay before the given attempt (1-based): base doubled
// per prior attempt, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseBackoff << (attempt - 1)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// ShouldRetry reports whether a failure on the given attempt (1-based) may
// be retried.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do runs fn under the policy, sleeping the backoff between attempts. It
// returns the last error once attempts are exhausted or the error is not
// retryable.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !p.ShouldRetry(err, attempt) {
			return err
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
