package apiclient

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of a call that opted in. The wait before retry n
// (1-based) is BaseDelay*n.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(retry int, delay time.Duration, err error)
}

// DefaultRetryPolicy is two retries after 1s and 2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Second}
}

// NoRetry runs the call exactly once
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Delay returns the wait before retry n (1-based)
func (p RetryPolicy) Delay(n int) time.Duration {
	return p.BaseDelay * time.Duration(n)
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// retries are used up. The last error is returned unchanged.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) || attempt >= p.MaxRetries {
			return zero, err
		}

		delay := p.Delay(attempt + 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if sleep(ctx, delay) != nil {
			return zero, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
