package provider

import (
	"sync"

	"github.com/itsneelabh/gateway/domain"
)

// ModelRepository is the facade the ROUTE and INFERENCE phases consult to
// resolve a model id to its manifest, scoped by tenant visibility. It has
// exactly one operation per §6: findById.
type ModelRepository interface {
	FindByID(modelID string, tenant domain.TenantID) (domain.ModelManifest, bool)
}

// StaticRepository serves manifests from an in-memory map populated at
// startup (or by a periodic reload) — no external model catalog service is
// assumed. A manifest with TenantVisible false is hidden from every
// tenant; one with TenantVisible true is visible to every tenant unless an
// optional allowlist narrows it.
type StaticRepository struct {
	mu        sync.RWMutex
	manifests map[string]domain.ModelManifest
	allowlist map[string]map[domain.TenantID]bool // modelID -> tenants allowed to see it; absent = public
}

// NewStaticRepository returns an empty repository.
func NewStaticRepository() *StaticRepository {
	return &StaticRepository{
		manifests: make(map[string]domain.ModelManifest),
		allowlist: make(map[string]map[domain.TenantID]bool),
	}
}

// Put registers or replaces a manifest.
func (s *StaticRepository) Put(manifest domain.ModelManifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[manifest.ModelID] = manifest
}

// RestrictTo limits a model's visibility to the given tenants. Calling it
// with no tenants makes the model visible to nobody; never calling it
// leaves the model public.
func (s *StaticRepository) RestrictTo(modelID string, tenants ...domain.TenantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[domain.TenantID]bool, len(tenants))
	for _, t := range tenants {
		set[t] = true
	}
	s.allowlist[modelID] = set
}

// FindByID returns the manifest for modelID if it exists and is visible to
// tenant, per the ModelManifest.TenantVisible flag and any allowlist.
func (s *StaticRepository) FindByID(modelID string, tenant domain.TenantID) (domain.ModelManifest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manifest, ok := s.manifests[modelID]
	if !ok {
		return domain.ModelManifest{}, false
	}
	if !manifest.TenantVisible {
		return domain.ModelManifest{}, false
	}
	if allowed, restricted := s.allowlist[modelID]; restricted && !allowed[tenant] {
		return domain.ModelManifest{}, false
	}
	return manifest, true
}
