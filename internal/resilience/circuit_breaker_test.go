package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); err == nil {
			t.Fatalf("Expected error on call %d", i)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state after 3 failures, got %v", cb.GetState())
	}

	// Open circuit rejects without invoking fn
	invoked := false
	err := cb.Call(func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("Function should not run while circuit is open")
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	for i := 0; i < 10; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after interleaved success, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	// The breaker should let a probe through now
	invoked := false
	cb.Call(func() error {
		invoked = true
		return nil
	})
	if !invoked {
		t.Error("Expected probe to run after reset timeout")
	}
}

func TestCircuitBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.Call(func() error { return nil })
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after successful probes, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return errors.New("still broken") })

	if cb.GetState() != StateOpen {
		t.Errorf("Expected re-opened state after failed probe, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)

	cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after Reset, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, time.Minute)

	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("boom") })

	_, requests, failures, rate := cb.GetStats()
	if requests != 2 {
		t.Errorf("Expected 2 requests, got %d", requests)
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected 50%% failure rate, got %f", rate)
	}
}
