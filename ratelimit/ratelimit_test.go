package ratelimit

import (
	"testing"
	"time"

	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAcceptsWithinCapacity(t *testing.T) {
	b, err := NewTokenBucket(2, time.Second)
	require.NoError(t, err)

	assert.True(t, b.TryAcquire(1))
	assert.True(t, b.TryAcquire(1))
	assert.False(t, b.TryAcquire(1))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	b, err := NewTokenBucket(2, 50*time.Millisecond)
	require.NoError(t, err)

	require.True(t, b.TryAcquire(2))
	require.False(t, b.TryAcquire(1))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.TryAcquire(1))
}

func TestTokenBucketResetRestoresCapacity(t *testing.T) {
	b, err := NewTokenBucket(3, time.Second)
	require.NoError(t, err)
	require.True(t, b.TryAcquire(3))
	b.Reset()
	assert.Equal(t, 3, b.AvailablePermits())
}

func TestTokenBucketRejectsZeroCapacity(t *testing.T) {
	_, err := NewTokenBucket(0, time.Second)
	assert.Error(t, err)
	_, err = NewTokenBucket(1, 0)
	assert.Error(t, err)
}

func TestSlidingWindowAcceptsUpToMax(t *testing.T) {
	w, err := NewSlidingWindow(2, time.Minute)
	require.NoError(t, err)

	assert.True(t, w.TryAcquire(1))
	assert.True(t, w.TryAcquire(1))
	assert.False(t, w.TryAcquire(1))
}

func TestSlidingWindowEvictsOldEntries(t *testing.T) {
	w, err := NewSlidingWindow(1, 30*time.Millisecond)
	require.NoError(t, err)

	require.True(t, w.TryAcquire(1))
	require.False(t, w.TryAcquire(1))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, w.TryAcquire(1))
}

func TestSlidingWindowResetRestoresCapacity(t *testing.T) {
	w, err := NewSlidingWindow(2, time.Minute)
	require.NoError(t, err)
	require.True(t, w.TryAcquire(2))
	w.Reset()
	assert.Equal(t, 2, w.AvailablePermits())
}

func TestScenarioTokenBucketThreeRequestsOneRejected(t *testing.T) {
	// Literal scenario 4: capacity=2, refill=1/s, three requests within
	// 100ms: first two accepted, third rejected with timeUntilAvailable ~ 900ms.
	// The refill period is the time to refill the whole bucket, so 1 token/s
	// at capacity 2 is a 2s period. The requests here arrive back to back,
	// so the wait comes out just under 1s.
	b, err := NewTokenBucket(2, 2*time.Second)
	require.NoError(t, err)

	assert.True(t, b.TryAcquire(1))
	assert.True(t, b.TryAcquire(1))
	assert.False(t, b.TryAcquire(1))

	wait := b.TimeUntilAvailable(1)
	assert.InDelta(t, 900*time.Millisecond, wait, float64(150*time.Millisecond))
}

func TestManagerLazyConstructionAndIsolationPerKey(t *testing.T) {
	m := NewManager(Config{Algorithm: AlgorithmTokenBucket, Capacity: 1, RefillPeriod: time.Minute})

	ok1, _ := m.TryAcquire(domain.ProviderID("p1"), domain.TenantID("t1"))
	assert.True(t, ok1)
	ok2, _ := m.TryAcquire(domain.ProviderID("p1"), domain.TenantID("t1"))
	assert.False(t, ok2, "second request to the same provider/tenant must be rejected")

	ok3, _ := m.TryAcquire(domain.ProviderID("p1"), domain.TenantID("t2"))
	assert.True(t, ok3, "a different tenant has its own bucket")
}

func TestManagerPerProviderOverride(t *testing.T) {
	m := NewManager(Config{Algorithm: AlgorithmTokenBucket, Capacity: 1, RefillPeriod: time.Minute})
	m.SetProviderConfig(domain.ProviderID("p2"), Config{Algorithm: AlgorithmSlidingWindow, Capacity: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		ok, _ := m.TryAcquire(domain.ProviderID("p2"), domain.TenantID("t1"))
		assert.True(t, ok)
	}
	ok, _ := m.TryAcquire(domain.ProviderID("p2"), domain.TenantID("t1"))
	assert.False(t, ok)
}
