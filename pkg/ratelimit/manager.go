// Package ratelimit keeps a token bucket per client address.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxTrackedClients bounds the limiter table when Config leaves it unset
	DefaultMaxTrackedClients = 10000
	// DefaultCleanupInterval is how often idle clients are forgotten
	DefaultCleanupInterval = time.Minute
)

// Config sizes the per-client buckets
type Config struct {
	RequestsPerSecond float64
	Burst             int
	MaxTrackedClients int
	CleanupInterval   time.Duration
}

// Manager enforces per-client rate limiting using token buckets.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewManager returns nil when RequestsPerSecond is not positive; a nil
// Manager allows everything.
func NewManager(cfg Config) *Manager {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if cfg.MaxTrackedClients <= 0 {
		cfg.MaxTrackedClients = DefaultMaxTrackedClients
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &Manager{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter, 128),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go m.cleanupLoop()
	return m
}

// Allow consumes a token for clientIP. When the bucket is empty it reports
// how long the client should wait before retrying.
func (m *Manager) Allow(clientIP string) (bool, time.Duration) {
	if m == nil {
		return true, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.limiterLocked(clientIP)
	now := m.now()
	entry.lastSeen = now
	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}

	wait := time.Duration(float64(time.Second) / m.cfg.RequestsPerSecond)
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}

// Tracked returns the number of clients with a live bucket
func (m *Manager) Tracked() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Stop terminates the background cleanup goroutine.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) cleanup() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for ip, entry := range m.clients {
		if now.Sub(entry.lastSeen) > m.cfg.CleanupInterval {
			delete(m.clients, ip)
		}
	}
}

func (m *Manager) limiterLocked(clientIP string) *clientLimiter {
	if entry, ok := m.clients[clientIP]; ok {
		return entry
	}

	if len(m.clients) >= m.cfg.MaxTrackedClients {
		m.evictOldestLocked()
	}

	entry := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(m.cfg.RequestsPerSecond), m.cfg.Burst),
		lastSeen: m.now(),
	}
	m.clients[clientIP] = entry
	return entry
}

func (m *Manager) evictOldestLocked() {
	var oldestIP string
	var oldestTime time.Time
	first := true

	for ip, entry := range m.clients {
		if first || entry.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = entry.lastSeen
			first = false
		}
	}

	if !first {
		delete(m.clients, oldestIP)
	}
}
