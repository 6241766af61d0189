package forwarder

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(3, 2, 30*time.Second)
	cb.now = clock.now
	cb.lastStateChange.Store(clock.t.UnixNano())
	return cb
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	fail := errors.New("boom")

	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("closed breaker rejected query %d", i)
		}
		cb.Record(fail)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s after 2 failures, want closed", cb.State())
	}

	cb.Record(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %s after 3 failures, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker admitted a query")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	fail := errors.New("boom")

	cb.Record(fail)
	cb.Record(fail)
	cb.Record(nil)
	cb.Record(fail)
	cb.Record(fail)
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.Record(fail)
	}

	clock.t = clock.t.Add(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("breaker should admit a probe after the open timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	cb.Record(nil)

	if !cb.Allow() {
		t.Fatal("half-open breaker should admit a second probe")
	}
	cb.Record(nil)

	if cb.State() != StateClosed {
		t.Errorf("state = %s after 2 successful probes, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.Record(fail)
	}

	clock.t = clock.t.Add(time.Minute)
	if !cb.Allow() {
		t.Fatal("expected probe")
	}
	cb.Record(fail)

	if cb.State() != StateOpen {
		t.Errorf("state = %s, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("reopened breaker admitted a query before the timeout")
	}
}

func TestCircuitBreaker_ProbeLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.Record(errors.New("boom"))
	}
	clock.t = clock.t.Add(time.Minute)

	admitted := 0
	for i := 0; i < 10; i++ {
		if cb.Allow() {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("admitted %d concurrent probes, want 3", admitted)
	}
}

func TestCircuitState_String(t *testing.T) {
	for state, want := range map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		CircuitState(42): "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
