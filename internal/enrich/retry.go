package enrich

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"time"
)

// RetryPolicy controls how a single metadata call is retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy: 3 attempts, 200ms then 400ms between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// temporary is implemented by provider errors that know whether they are
// worth retrying, such as tmdb.StatusError.
type temporary interface {
	Temporary() bool
}

// retry runs fn until it succeeds, returns a permanent error, runs out of
// attempts or ctx is done. Delays grow by Multiplier with ±25% jitter.
func retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := policy.InitialDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !isTransient(lastErr) || attempt == attempts {
			return lastErr
		}

		wait := jitter(delay)
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
	}
	return lastErr
}

func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

// isTransient treats network failures, per-attempt timeouts, truncated bodies
// and provider-declared temporary statuses as retryable. Caller cancellation
// is not.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
