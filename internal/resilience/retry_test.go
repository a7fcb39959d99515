package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"circuit open", &CircuitOpenError{RetryAfter: time.Second}, false},
		{"http 429", &providers.HTTPError{Status: 429}, true},
		{"http 500", &providers.HTTPError{Status: 500}, true},
		{"http 400", &providers.HTTPError{Status: 400}, false},
		{"unclassified transport error", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryDo_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
	}, func() (int, error) {
		attempts++
		return 0, &providers.HTTPError{Status: 401}
	})
	if err == nil {
		t.Fatal("expected an error for a non-retryable failure")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-retryable errors must not be retried)", attempts)
	}
}

func TestRetryDo_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	got, err := RetryDo(context.Background(), RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
	}, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &providers.HTTPError{Status: 503}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got = %d, want 42", got)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryDo_ExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
	}, func() (int, error) {
		attempts++
		return 0, &providers.HTTPError{Status: 503}
	})
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (MaxAttempts)", attempts)
	}
}
