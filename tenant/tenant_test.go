package tenant

import (
	"testing"
	"time"

	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolveReturnsRegisteredAttributes(t *testing.T) {
	r := NewRegistry()
	r.Put(domain.TenantContext{ID: "t1", Attributes: map[string]string{"plan": "pro"}})

	tc := r.Resolve("t1")
	assert.Equal(t, "pro", tc.Attributes["plan"])
}

func TestRegistryResolveUnknownTenantReturnsBareContext(t *testing.T) {
	r := NewRegistry()
	tc := r.Resolve("ghost")
	assert.Equal(t, domain.TenantID("ghost"), tc.ID)
	assert.Nil(t, tc.Attributes)
}

func TestInMemoryStoreEnforcesBudget(t *testing.T) {
	s := NewInMemoryStore()
	budget := Budget{MaxTokens: 100, Window: time.Minute}

	allowed, remaining := s.Consume("t1", 60, budget)
	require.True(t, allowed)
	assert.Equal(t, 40, remaining)

	allowed, remaining = s.Consume("t1", 50, budget)
	assert.False(t, allowed)
	assert.Equal(t, 40, remaining)
}

func TestInMemoryStoreResetsAfterWindow(t *testing.T) {
	s := NewInMemoryStore()
	budget := Budget{MaxTokens: 10, Window: 10 * time.Millisecond}

	allowed, _ := s.Consume("t1", 10, budget)
	require.True(t, allowed)

	allowed, _ = s.Consume("t1", 1, budget)
	require.False(t, allowed, "budget is exhausted within the same window")

	time.Sleep(20 * time.Millisecond)
	allowed, remaining := s.Consume("t1", 1, budget)
	assert.True(t, allowed, "a new window must reset the counter")
	assert.Equal(t, 9, remaining)
}

func TestQuotaEnforcerUsesPerTenantOverride(t *testing.T) {
	q := NewQuotaEnforcer(NewInMemoryStore(), Budget{MaxTokens: 10, Window: time.Minute})
	q.SetBudget("t1", Budget{MaxTokens: 1000, Window: time.Minute})

	assert.True(t, q.Allow("t1", 500))
	assert.False(t, q.Allow("t2", 500), "t2 still uses the default, smaller budget")
}
