package forwarder

import (
	"sync/atomic"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed means queries are forwarded normally
	StateClosed CircuitState = iota
	// StateOpen means the upstream is skipped
	StateOpen
	// StateHalfOpen means a few probe queries are let through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures of a single upstream
type CircuitBreaker struct {
	state           atomic.Int32
	failures        atomic.Int64
	successes       atomic.Int64
	lastStateChange atomic.Int64 // unix nanos
	probes          atomic.Int32

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	maxProbes        int32
	now              func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		maxProbes:        3,
		now:              time.Now,
	}
	cb.state.Store(int32(StateClosed))
	cb.lastStateChange.Store(cb.now().UnixNano())
	return cb
}

// Allow reports whether a query may be sent. An open breaker whose timeout
// has elapsed moves to half-open and admits a bounded number of probes;
// each admitted probe must be followed by Record.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(cb.state.Load()) {
	case StateOpen:
		since := cb.now().Sub(time.Unix(0, cb.lastStateChange.Load()))
		if since <= cb.openTimeout {
			return false
		}
		if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			cb.transitioned()
		}
		return cb.admitProbe()
	case StateHalfOpen:
		return cb.admitProbe()
	default:
		return true
	}
}

func (cb *CircuitBreaker) admitProbe() bool {
	if cb.probes.Add(1) > cb.maxProbes {
		cb.probes.Add(-1)
		return false
	}
	return true
}

// Record feeds the outcome of an allowed query back into the breaker
func (cb *CircuitBreaker) Record(err error) {
	if CircuitState(cb.state.Load()) == StateHalfOpen {
		cb.probes.Add(-1)
	}
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	failures := cb.failures.Add(1)

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		if failures >= int64(cb.failureThreshold) &&
			cb.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
			cb.transitioned()
		}
	case StateHalfOpen:
		// any failure while probing reopens the circuit
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
			cb.transitioned()
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	successes := cb.successes.Add(1)
	cb.failures.Store(0)

	if CircuitState(cb.state.Load()) == StateHalfOpen && successes >= int64(cb.successThreshold) &&
		cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
		cb.transitioned()
	}
}

func (cb *CircuitBreaker) transitioned() {
	cb.lastStateChange.Store(cb.now().UnixNano())
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.probes.Store(0)
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.state.Store(int32(StateClosed))
	cb.transitioned()
}
