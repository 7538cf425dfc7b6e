package core

import (
	"context"
	"time"
)

// RetryPolicy controls attempt count and exponential backoff.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is a conservative default suitable for short,
// idempotent operations such as a locked-row compare-and-swap.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       3,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     320 * time.Millisecond,
	Multiplier:     2,
}

// Retry calls fn up to policy.Attempts times, sleeping with exponential
// backoff between attempts. It returns the last error if every attempt
// fails, or nil as soon as one succeeds. Retry stops early if ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	backoff := policy.InitialBackoff
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return err
}
