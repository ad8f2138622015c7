package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/router"
)

// providerStats tracks the live load/latency signal one provider
// contributes to router.Candidate: an in-flight request counter plus an
// exponentially-weighted latency average, cheaper to maintain per-request
// than a true percentile and close enough for LEAST_LOADED/
// LATENCY_OPTIMIZED ranking purposes.
type providerStats struct {
	active     int64 // atomic
	mu         sync.Mutex
	avgLatency float64 // milliseconds, EWMA
}

const latencyEWMAWeight = 0.2

func (s *providerStats) begin()  { atomic.AddInt64(&s.active, 1) }
func (s *providerStats) end(latencyMs float64) {
	atomic.AddInt64(&s.active, -1)
	s.mu.Lock()
	if s.avgLatency == 0 {
		s.avgLatency = latencyMs
	} else {
		s.avgLatency = latencyEWMAWeight*latencyMs + (1-latencyEWMAWeight)*s.avgLatency
	}
	s.mu.Unlock()
}

func (s *providerStats) snapshot() (active int64, latency float64) {
	active = atomic.LoadInt64(&s.active)
	s.mu.Lock()
	latency = s.avgLatency
	s.mu.Unlock()
	return
}

// healthStore is the TTL-keyed backing store behind a Tracker's health
// cache. healthCache is the single-process default; RedisHealthCache
// implements the same contract so multiple gateway replicas can share
// probe results instead of each re-probing independently.
type healthStore interface {
	get(id domain.ProviderID, now time.Time) (domain.ProviderHealth, bool)
	put(id domain.ProviderID, health domain.ProviderHealth)
}

// healthCache remembers the last probe result for a provider so
// CandidatesFor (called on every request) doesn't re-probe synchronously
// unless the cached result has gone stale.
type healthCache struct {
	mu      sync.RWMutex
	entries map[domain.ProviderID]domain.ProviderHealth
	ttl     time.Duration
}

func (h *healthCache) get(id domain.ProviderID, now time.Time) (domain.ProviderHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.entries[id]
	if !ok || now.Sub(entry.Timestamp) > h.ttl {
		return domain.ProviderHealth{}, false
	}
	return entry, true
}

func (h *healthCache) put(id domain.ProviderID, health domain.ProviderHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[id] = health
}

// RedisHealthCache backs a Tracker's health probe cache with Redis, so
// replicas of this gateway share probe results instead of each paying the
// adapter's Health(ctx) round trip independently. Entries expire via
// Redis's own TTL rather than a timestamp comparison, since the value
// leaves the process.
type RedisHealthCache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisHealthCache builds a RedisHealthCache keyed under prefix, with
// cached probes expiring after ttl.
func NewRedisHealthCache(client *goredis.Client, prefix string, ttl time.Duration) *RedisHealthCache {
	return &RedisHealthCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisHealthCache) key(id domain.ProviderID) string {
	return r.prefix + ":health:" + string(id)
}

func (r *RedisHealthCache) get(id domain.ProviderID, now time.Time) (domain.ProviderHealth, bool) {
	data, err := r.client.Get(context.Background(), r.key(id)).Bytes()
	if err != nil {
		return domain.ProviderHealth{}, false
	}
	var health domain.ProviderHealth
	if json.Unmarshal(data, &health) != nil {
		return domain.ProviderHealth{}, false
	}
	return health, true
}

func (r *RedisHealthCache) put(id domain.ProviderID, health domain.ProviderHealth) {
	data, err := json.Marshal(health)
	if err != nil {
		return
	}
	r.client.Set(context.Background(), r.key(id), data, r.ttl)
}

var _ healthStore = (*healthCache)(nil)
var _ healthStore = (*RedisHealthCache)(nil)

// Tracker adapts a Registry into router.CandidateSource, caching health
// probes and accumulating the per-provider load/latency signal the
// LEAST_LOADED and LATENCY_OPTIMIZED strategies rank on. It also exposes
// Begin/End so the orchestrator can report each call's lifecycle.
type Tracker struct {
	registry *Registry
	health   healthStore
	statsMu  sync.Mutex
	stats    map[domain.ProviderID]*providerStats
}

// NewTracker builds a Tracker over registry, caching health probes
// in-process for healthTTL before re-probing.
func NewTracker(registry *Registry, healthTTL time.Duration) *Tracker {
	if healthTTL <= 0 {
		healthTTL = 5 * time.Second
	}
	return NewTrackerWithHealthStore(registry, &healthCache{entries: make(map[domain.ProviderID]domain.ProviderHealth), ttl: healthTTL})
}

// NewTrackerWithHealthStore builds a Tracker backed by an arbitrary
// healthStore — RedisHealthCache when probe results should be shared
// across replicas, the in-process default otherwise.
func NewTrackerWithHealthStore(registry *Registry, store healthStore) *Tracker {
	return &Tracker{
		registry: registry,
		health:   store,
		stats:    make(map[domain.ProviderID]*providerStats),
	}
}

func (t *Tracker) statsFor(id domain.ProviderID) *providerStats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	s, ok := t.stats[id]
	if !ok {
		s = &providerStats{}
		t.stats[id] = s
	}
	return s
}

// Begin records a new in-flight call to id, for load-based routing.
func (t *Tracker) Begin(id domain.ProviderID) { t.statsFor(id).begin() }

// End records a completed call to id and its latency.
func (t *Tracker) End(id domain.ProviderID, latency time.Duration) {
	t.statsFor(id).end(float64(latency.Milliseconds()))
}

func (t *Tracker) healthFor(ctx context.Context, id domain.ProviderID, adapter Adapter) domain.ProviderHealth {
	now := time.Now()
	if h, ok := t.health.get(id, now); ok {
		return h
	}
	h := adapter.Health(ctx)
	if h.Timestamp.IsZero() {
		h.Timestamp = now
	}
	t.health.put(id, h)
	return h
}

// CandidatesFor implements router.CandidateSource: every registered
// provider whose adapter reports Supports for modelID, annotated with a
// (possibly cached) health probe and its current load/latency stats.
func (t *Tracker) CandidatesFor(modelID string, req domain.InferenceRequest) []router.Candidate {
	descriptors := t.registry.List()
	out := make([]router.Candidate, 0, len(descriptors))
	for _, desc := range descriptors {
		adapter, ok := t.registry.For(desc.ID)
		if !ok || !adapter.Supports(modelID, req) {
			continue
		}
		health := t.healthFor(context.Background(), desc.ID, adapter)
		active, latency := t.statsFor(desc.ID).snapshot()
		out = append(out, router.Candidate{
			Descriptor:   desc,
			Health:       health,
			ActiveReqs:   active,
			P95LatencyMs: latency,
		})
	}
	return out
}
