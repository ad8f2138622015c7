package provider

import (
	"context"
	"testing"

	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	id domain.ProviderID
}

func (f *fakeAdapter) ID() domain.ProviderID                  { return f.id }
func (f *fakeAdapter) Name() string                           { return string(f.id) }
func (f *fakeAdapter) Capabilities() domain.ProviderCapabilities { return domain.ProviderCapabilities{} }
func (f *fakeAdapter) Initialize(ctx context.Context, config map[string]interface{}) error {
	return nil
}
func (f *fakeAdapter) Shutdown(ctx context.Context) error { return nil }
func (f *fakeAdapter) Supports(modelID string, req domain.InferenceRequest) bool {
	return true
}
func (f *fakeAdapter) Infer(ctx context.Context, req Request) (domain.InferenceResponse, error) {
	return domain.InferenceResponse{RequestID: req.Inference.RequestID}, nil
}
func (f *fakeAdapter) Health(ctx context.Context) domain.ProviderHealth {
	return domain.ProviderHealth{Status: domain.HealthHealthy}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	err := r.Register(domain.ProviderDescriptor{ID: "p1"}, &fakeAdapter{id: "p1"})
	require.NoError(t, err)

	a, ok := r.For("p1")
	require.True(t, ok)
	assert.Equal(t, domain.ProviderID("p1"), a.ID())

	_, ok = r.For("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsNilAdapterOrEmptyID(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, nil))
	assert.Error(t, r.Register(domain.ProviderDescriptor{}, &fakeAdapter{id: "p1"}))
}

func TestRegisterIsCopyOnWrite(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, &fakeAdapter{id: "p1"}))

	before := r.snap()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p2"}, &fakeAdapter{id: "p2"}))
	after := r.snap()

	assert.Len(t, before.byID, 1, "the snapshot a reader already holds must not change under it")
	assert.Len(t, after.byID, 2)
}

func TestReregisterReplacesAdapterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1", Weight: 1}, &fakeAdapter{id: "p1"}))
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p2", Weight: 1}, &fakeAdapter{id: "p2"}))
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1", Weight: 2}, &fakeAdapter{id: "p1"}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.ProviderID("p1"), list[0].ID)
	assert.Equal(t, 2.0, list[0].Weight)
}

func TestDeregisterRemovesProvider(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "p1"}, &fakeAdapter{id: "p1"}))
	r.Deregister("p1")
	_, ok := r.For("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestIDsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "zeta"}, &fakeAdapter{id: "zeta"}))
	require.NoError(t, r.Register(domain.ProviderDescriptor{ID: "alpha"}, &fakeAdapter{id: "alpha"}))
	assert.Equal(t, []domain.ProviderID{"alpha", "zeta"}, r.IDs())
}

func TestStaticRepositoryVisibility(t *testing.T) {
	repo := NewStaticRepository()
	repo.Put(domain.ModelManifest{ModelID: "m1", TenantVisible: true})
	repo.Put(domain.ModelManifest{ModelID: "m2", TenantVisible: false})

	_, ok := repo.FindByID("m1", "t1")
	assert.True(t, ok)
	_, ok = repo.FindByID("m2", "t1")
	assert.False(t, ok, "TenantVisible=false hides the model from everyone")
	_, ok = repo.FindByID("missing", "t1")
	assert.False(t, ok)
}

func TestStaticRepositoryAllowlist(t *testing.T) {
	repo := NewStaticRepository()
	repo.Put(domain.ModelManifest{ModelID: "m1", TenantVisible: true})
	repo.RestrictTo("m1", "t1")

	_, ok := repo.FindByID("m1", "t1")
	assert.True(t, ok)
	_, ok = repo.FindByID("m1", "t2")
	assert.False(t, ok)
}
