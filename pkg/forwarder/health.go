package forwarder

import (
	"sync"

	"override-dns/pkg/config"
)

// UpstreamHealth keeps one circuit breaker per upstream
type UpstreamHealth struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
	cfg      config.CircuitBreakerConfig
}

// NewUpstreamHealth creates breakers for every upstream
func NewUpstreamHealth(upstreams []string, cfg config.CircuitBreakerConfig) *UpstreamHealth {
	uh := &UpstreamHealth{
		breakers: make(map[string]*CircuitBreaker, len(upstreams)),
		cfg:      cfg,
	}
	for _, upstream := range upstreams {
		uh.breakers[upstream] = uh.newBreaker()
	}
	return uh
}

func (uh *UpstreamHealth) newBreaker() *CircuitBreaker {
	return NewCircuitBreaker(uh.cfg.FailureThreshold, uh.cfg.SuccessThreshold, uh.cfg.OpenTimeout)
}

func (uh *UpstreamHealth) breaker(upstream string) *CircuitBreaker {
	uh.mu.RLock()
	defer uh.mu.RUnlock()
	return uh.breakers[upstream]
}

// Allow reports whether upstream may be queried. Unknown upstreams are allowed.
func (uh *UpstreamHealth) Allow(upstream string) bool {
	if b := uh.breaker(upstream); b != nil {
		return b.Allow()
	}
	return true
}

// RecordResult records the result of an allowed upstream query
func (uh *UpstreamHealth) RecordResult(upstream string, err error) {
	if b := uh.breaker(upstream); b != nil {
		b.Record(err)
	}
}

// States returns the breaker state of every upstream
func (uh *UpstreamHealth) States() map[string]CircuitState {
	uh.mu.RLock()
	defer uh.mu.RUnlock()

	states := make(map[string]CircuitState, len(uh.breakers))
	for upstream, b := range uh.breakers {
		states[upstream] = b.State()
	}
	return states
}

// ResetAll closes every breaker
func (uh *UpstreamHealth) ResetAll() {
	uh.mu.RLock()
	defer uh.mu.RUnlock()
	for _, b := range uh.breakers {
		b.Reset()
	}
}
