package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if ok, _ := cb.Allow(); !ok {
			t.Fatalf("attempt %d: expected closed circuit to allow", i)
		}
		cb.RecordFailure()
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after 2/3 failures", got)
	}

	if ok, _ := cb.Allow(); !ok {
		t.Fatal("expected third attempt to be allowed before it fails")
	}
	cb.RecordFailure()
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open after reaching the failure threshold", got)
	}

	ok, err := cb.Allow()
	if ok {
		t.Fatal("expected Allow to reject while the circuit is open")
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen(%v) = false, want true", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeSucceeds(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	time.Sleep(15 * time.Millisecond)

	ok, _ := cb.Allow()
	if !ok {
		t.Fatal("expected the probe call to be allowed once the cooldown elapsed")
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}

	// A second concurrent caller must be rejected while the probe is in flight.
	if ok, _ := cb.Allow(); ok {
		t.Fatal("expected a concurrent caller to be rejected during an in-flight probe")
	}

	cb.RecordSuccess()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after a successful probe", got)
	}
}

func TestCircuitBreaker_HalfOpenProbeFailsReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	ok, _ := cb.Allow()
	if !ok {
		t.Fatal("expected the probe call to be allowed")
	}
	cb.RecordFailure()

	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open after a failed probe", got)
	}

	if ok, _ := cb.Allow(); ok {
		t.Fatal("expected immediate rejection right after a failed probe reopens the circuit")
	}
}
