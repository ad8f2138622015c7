package ratelimit

import (
	"sync"
	"time"

	"github.com/itsneelabh/gateway/domain"
)

// Algorithm selects which limiter implementation a (provider, tenant) pair
// gets.
type Algorithm string

const (
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
)

// Key identifies one limiter instance.
type Key struct {
	Provider domain.ProviderID
	Tenant   domain.TenantID
}

// Config picks the algorithm and its parameters for limiter instances the
// Manager creates lazily.
type Config struct {
	Algorithm    Algorithm
	Capacity     int           // sliding window: max requests; token bucket: capacity
	Window       time.Duration // sliding window only
	RefillPeriod time.Duration // token bucket only
}

// acquirer is the subset of Limiter both concrete types satisfy plus the
// wait-hint method the orchestrator's RateLimited error needs.
type acquirer interface {
	Limiter
	TimeUntilAvailable(permits int) time.Duration
}

// Manager owns one limiter per (provider, tenant) pair, built lazily on
// first use with the configuration matching that provider, the same
// lazy-construction-plus-sync.Map pattern this codebase uses for its
// in-memory rate limiter buckets.
type Manager struct {
	mu       sync.RWMutex
	configs  map[domain.ProviderID]Config
	fallback Config
	limiters sync.Map // Key -> acquirer
}

func NewManager(fallback Config) *Manager {
	return &Manager{
		configs:  make(map[domain.ProviderID]Config),
		fallback: fallback,
	}
}

// SetProviderConfig overrides the limiter configuration for one provider.
// Safe to call concurrently with For; a changed config only affects
// limiter instances constructed after the call.
func (m *Manager) SetProviderConfig(provider domain.ProviderID, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[provider] = cfg
}

func (m *Manager) configFor(provider domain.ProviderID) Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[provider]; ok {
		return cfg
	}
	return m.fallback
}

// For returns the limiter for (provider, tenant), constructing it lazily.
func (m *Manager) For(provider domain.ProviderID, tenant domain.TenantID) acquirer {
	key := Key{Provider: provider, Tenant: tenant}
	if v, ok := m.limiters.Load(key); ok {
		return v.(acquirer)
	}

	cfg := m.configFor(provider)
	var l acquirer
	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		tb, _ := NewTokenBucket(cfg.Capacity, cfg.RefillPeriod) // config is validated once at startup
		l = tb
	default:
		sw, _ := NewSlidingWindow(cfg.Capacity, cfg.Window)
		l = sw
	}

	actual, _ := m.limiters.LoadOrStore(key, l)
	return actual.(acquirer)
}

// TryAcquire is the call the orchestrator makes before invoking a
// provider: one permit, fail-fast by default per §5.
func (m *Manager) TryAcquire(provider domain.ProviderID, tenant domain.TenantID) (bool, time.Duration) {
	l := m.For(provider, tenant)
	if l.TryAcquire(1) {
		return true, 0
	}
	return false, l.TimeUntilAvailable(1)
}
