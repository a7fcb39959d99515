package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

// RetryPolicy configures the exponential-backoff-with-full-jitter retry
// layer. Full jitter (randomizing the entire wait, not just an offset) is
// the simpler of the two jitter strategies commonly used and is what the
// breaker/retry composition here settles on.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

func (p RetryPolicy) backoffPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 1.0 // full jitter: wait drawn from [0, 2*computed]
	return eb
}

// IsRetryable classifies an error from a provider call. Transport errors,
// context.DeadlineExceeded, and HTTPError{429 or 5xx} are retryable;
// everything else (auth failures, 4xx, context.Canceled) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return false
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	// Unclassified errors (DNS failures, connection resets, etc.) are
	// assumed to be transient transport errors.
	return true
}

// RetryDo runs fn under policy, retrying retryable failures with
// exponential backoff and full jitter. Non-retryable errors and context
// cancellation stop immediately.
func RetryDo[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	operation := func() (T, error) {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		if !IsRetryable(err) {
			return val, backoff.Permanent(err)
		}
		return val, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backoffPolicy()),
		backoff.WithMaxTries(uint(maxInt(policy.MaxAttempts, 1))),
	)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
