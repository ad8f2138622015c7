package provider

import (
	"context"
	"testing"
	"time"

	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthSequenceAdapter struct {
	fakeAdapter
	healths []domain.ProviderHealth
	calls   int
}

func (h *healthSequenceAdapter) Health(ctx context.Context) domain.ProviderHealth {
	i := h.calls
	if i >= len(h.healths) {
		i = len(h.healths) - 1
	}
	h.calls++
	return h.healths[i]
}

func TestCandidatesForSkipsUnsupportedModels(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, &fakeAdapter{id: "p1"}))

	tr := NewTracker(r, time.Minute)
	candidates := tr.CandidatesFor("model-a", domain.InferenceRequest{})
	require.Len(t, candidates, 1)
	assert.Equal(t, domain.ProviderID("p1"), candidates[0].Descriptor.ID)
}

func TestCandidatesForReportsHealthFromAdapter(t *testing.T) {
	r := NewRegistry()
	adapter := &healthSequenceAdapter{
		fakeAdapter: fakeAdapter{id: "p1"},
		healths:     []domain.ProviderHealth{{Status: domain.HealthHealthy, Timestamp: time.Now()}},
	}
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, adapter))

	tr := NewTracker(r, time.Minute)
	candidates := tr.CandidatesFor("model-a", domain.InferenceRequest{})
	require.Len(t, candidates, 1)
	assert.Equal(t, domain.HealthHealthy, candidates[0].Health.Status)
}

func TestHealthIsCachedWithinTTL(t *testing.T) {
	r := NewRegistry()
	adapter := &healthSequenceAdapter{
		fakeAdapter: fakeAdapter{id: "p1"},
		healths: []domain.ProviderHealth{
			{Status: domain.HealthHealthy, Timestamp: time.Now()},
			{Status: domain.HealthUnhealthy, Timestamp: time.Now()},
		},
	}
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, adapter))

	tr := NewTracker(r, time.Hour)
	first := tr.CandidatesFor("model-a", domain.InferenceRequest{})
	second := tr.CandidatesFor("model-a", domain.InferenceRequest{})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, domain.HealthHealthy, second[0].Health.Status, "second call should reuse the cached probe, not call Health again")
	assert.Equal(t, 1, adapter.calls)
}

func TestHealthReprobesAfterTTLExpires(t *testing.T) {
	r := NewRegistry()
	adapter := &healthSequenceAdapter{
		fakeAdapter: fakeAdapter{id: "p1"},
		healths: []domain.ProviderHealth{
			{Status: domain.HealthHealthy, Timestamp: time.Now()},
			{Status: domain.HealthUnhealthy, Timestamp: time.Now()},
		},
	}
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, adapter))

	tr := NewTracker(r, time.Nanosecond)
	first := tr.CandidatesFor("model-a", domain.InferenceRequest{})
	time.Sleep(time.Millisecond)
	second := tr.CandidatesFor("model-a", domain.InferenceRequest{})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, domain.HealthUnhealthy, second[0].Health.Status)
	assert.Equal(t, 2, adapter.calls)
}

func TestBeginEndTracksActiveCountAndLatency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, &fakeAdapter{id: "p1"}))

	tr := NewTracker(r, time.Minute)
	tr.Begin("p1")
	tr.Begin("p1")

	candidates := tr.CandidatesFor("model-a", domain.InferenceRequest{})
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(2), candidates[0].ActiveReqs)

	tr.End("p1", 100*time.Millisecond)
	tr.End("p1", 100*time.Millisecond)

	candidates = tr.CandidatesFor("model-a", domain.InferenceRequest{})
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(0), candidates[0].ActiveReqs)
	assert.InDelta(t, 100, candidates[0].P95LatencyMs, 0.001)
}

func TestEndEWMASmoothsTowardNewLatency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, &fakeAdapter{id: "p1"}))

	tr := NewTracker(r, time.Minute)
	tr.End("p1", 100*time.Millisecond)
	tr.End("p1", 200*time.Millisecond)

	candidates := tr.CandidatesFor("model-a", domain.InferenceRequest{})
	require.Len(t, candidates, 1)
	// EWMA(0.2): 0.2*200 + 0.8*100 = 120
	assert.InDelta(t, 120, candidates[0].P95LatencyMs, 0.001)
}

func TestNewTrackerDefaultsHealthTTL(t *testing.T) {
	r := NewRegistry()
	tr := NewTracker(r, 0)
	cache, ok := tr.health.(*healthCache)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, cache.ttl)
}
