// Package provider defines the adapter contract every inference backend
// implements and a copy-on-write registry that holds the set of adapters
// currently wired into the gateway. Adapters are registered once at
// startup; lookups happen on every request, so the registry favors
// lock-free reads over write throughput — the same atomic.Value-snapshot
// pattern this codebase's telemetry registry uses for its hot metric-
// emission path.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
)

// Request is what the orchestrator hands to an adapter: a normalized
// inference request plus the model artifact descriptor the router
// resolved it against.
type Request struct {
	Inference domain.InferenceRequest
	Manifest  domain.ModelManifest
}

// ChunkFunc receives each chunk of a streaming response as it is produced.
// Adapters call it synchronously; returning a non-nil error from ChunkFunc
// aborts the stream early.
type ChunkFunc func(domain.StreamChunk) error

// Adapter is the contract every inference backend implements. Config is
// passed as map[string]any rather than a concrete struct because each
// adapter defines its own shape — a Bedrock adapter needs a region, an
// OpenAI-compatible one needs a base URL, and the registry neither knows
// nor cares.
type Adapter interface {
	ID() domain.ProviderID
	Name() string
	Capabilities() domain.ProviderCapabilities
	Initialize(ctx context.Context, config map[string]interface{}) error
	Shutdown(ctx context.Context) error
	Supports(modelID string, req domain.InferenceRequest) bool
	Infer(ctx context.Context, req Request) (domain.InferenceResponse, error)
	Health(ctx context.Context) domain.ProviderHealth
}

// StreamingAdapter is implemented by adapters that can serve requests with
// Streaming set, in addition to the base Adapter contract.
type StreamingAdapter interface {
	Adapter
	InferStream(ctx context.Context, req Request, onChunk ChunkFunc) error
}

// snapshot is the immutable contents of the registry at a point in time.
// Registration builds a new snapshot and swaps it in; nothing ever
// mutates a snapshot once published.
type snapshot struct {
	byID        map[domain.ProviderID]Adapter
	descriptors map[domain.ProviderID]domain.ProviderDescriptor
	order       []domain.ProviderID // registration order, for deterministic iteration
}

// Registry holds the set of provider adapters wired into the gateway.
// Reads (For, List, Descriptor) never block a concurrent Register: callers
// always see a complete, consistent snapshot.
type Registry struct {
	current atomic.Value // *snapshot
	mu      sync.Mutex   // serializes writers only
}

// NewRegistry returns an empty registry ready to accept registrations.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{
		byID:        make(map[domain.ProviderID]Adapter),
		descriptors: make(map[domain.ProviderID]domain.ProviderDescriptor),
	})
	return r
}

func (r *Registry) snap() *snapshot {
	return r.current.Load().(*snapshot)
}

// Register adds an adapter under the given descriptor. Re-registering the
// same ID replaces the prior adapter — used when a provider is reloaded
// with new capability flags.
func (r *Registry) Register(descriptor domain.ProviderDescriptor, adapter Adapter) error {
	if adapter == nil {
		return core.NewGatewayError("provider.Register", core.KindInternal, "adapter cannot be nil")
	}
	if descriptor.ID == "" {
		return core.NewGatewayError("provider.Register", core.KindInternal, "descriptor.ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap()
	next := &snapshot{
		byID:        make(map[domain.ProviderID]Adapter, len(old.byID)+1),
		descriptors: make(map[domain.ProviderID]domain.ProviderDescriptor, len(old.descriptors)+1),
		order:       make([]domain.ProviderID, 0, len(old.order)+1),
	}
	for id, a := range old.byID {
		next.byID[id] = a
		next.descriptors[id] = old.descriptors[id]
	}
	_, replacing := next.byID[descriptor.ID]
	next.byID[descriptor.ID] = adapter
	next.descriptors[descriptor.ID] = descriptor

	next.order = append(next.order, old.order...)
	if !replacing {
		next.order = append(next.order, descriptor.ID)
	}

	r.current.Store(next)
	return nil
}

// Deregister removes a provider from the registry, e.g. after repeated
// health-probe failures cross an operator-defined threshold.
func (r *Registry) Deregister(id domain.ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap()
	if _, ok := old.byID[id]; !ok {
		return
	}
	next := &snapshot{
		byID:        make(map[domain.ProviderID]Adapter, len(old.byID)),
		descriptors: make(map[domain.ProviderID]domain.ProviderDescriptor, len(old.descriptors)),
		order:       make([]domain.ProviderID, 0, len(old.order)),
	}
	for _, pid := range old.order {
		if pid == id {
			continue
		}
		next.byID[pid] = old.byID[pid]
		next.descriptors[pid] = old.descriptors[pid]
		next.order = append(next.order, pid)
	}
	r.current.Store(next)
}

// For returns the adapter registered under id, if any.
func (r *Registry) For(id domain.ProviderID) (Adapter, bool) {
	s := r.snap()
	a, ok := s.byID[id]
	return a, ok
}

// Descriptor returns the descriptor registered under id, if any.
func (r *Registry) Descriptor(id domain.ProviderID) (domain.ProviderDescriptor, bool) {
	s := r.snap()
	d, ok := s.descriptors[id]
	return d, ok
}

// List returns every registered descriptor, in registration order.
func (r *Registry) List() []domain.ProviderDescriptor {
	s := r.snap()
	out := make([]domain.ProviderDescriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.descriptors[id])
	}
	return out
}

// IDs returns every registered provider id, sorted, for callers that don't
// need registration order (e.g. metrics enumeration).
func (r *Registry) IDs() []domain.ProviderID {
	s := r.snap()
	out := make([]domain.ProviderID, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports how many adapters are currently registered.
func (r *Registry) Len() int {
	return len(r.snap().byID)
}

// String renders the registry contents for diagnostics/logging.
func (r *Registry) String() string {
	return fmt.Sprintf("provider.Registry{providers=%d}", r.Len())
}
