// Package tenant resolves per-request TenantContext and enforces each
// tenant's token/request quota for the current window. The quota store
// is pluggable: InMemoryStore for single-process/test use, RedisStore for
// counters that survive restarts and are shared across gateway replicas.
package tenant

import (
	"sync"
	"time"

	"github.com/itsneelabh/gateway/domain"
)

// Registry resolves a TenantID to its immutable TenantContext — the
// attributes map every request sees is shared and frozen, per the §3
// ownership summary ("TenantContext is shared immutably by all
// concurrent requests of the tenant").
type Registry struct {
	mu      sync.RWMutex
	tenants map[domain.TenantID]domain.TenantContext
}

// NewRegistry returns an empty tenant Registry.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[domain.TenantID]domain.TenantContext)}
}

// Put registers or replaces a tenant's attributes. Existing
// TenantContext values already handed out to in-flight requests are
// untouched — callers hold their own copy of the struct, not a pointer
// into the registry.
func (r *Registry) Put(ctx domain.TenantContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[ctx.ID] = ctx
}

// Resolve returns the TenantContext for id, or a bare context carrying
// only the id if the tenant was never registered — unknown tenants are
// still allowed to flow through the pipeline; AUTHORIZE-phase plugins
// decide whether that's acceptable.
func (r *Registry) Resolve(id domain.TenantID) domain.TenantContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tc, ok := r.tenants[id]; ok {
		return tc
	}
	return domain.TenantContext{ID: id}
}

// Budget is one tenant's quota configuration: a maximum number of tokens
// consumable within Window, reset each time the window rolls over.
type Budget struct {
	MaxTokens int
	Window    time.Duration
}

// Store is the quota-accounting backend a QuotaEnforcer consumes.
// Implementations must be safe for concurrent use by many requests of
// the same tenant.
type Store interface {
	// Consume attempts to spend tokens against tenant's budget for the
	// current window, returning whether it fit and how many tokens
	// remain after the attempt (a rejected attempt spends nothing, so this
	// is the budget left unspent in the window).
	Consume(tenant string, tokens int, budget Budget) (allowed bool, remaining int)
}

// QuotaEnforcer adapts a Store to pipeline.QuotaChecker's narrow
// interface (Allow(tenant string, tokens int) bool), applying a default
// Budget when the caller has not registered a tenant-specific one.
type QuotaEnforcer struct {
	store   Store
	mu      sync.RWMutex
	budgets map[string]Budget
	defaultBudget Budget
}

// NewQuotaEnforcer builds an enforcer over store with a fallback budget
// applied to tenants with no explicit override.
func NewQuotaEnforcer(store Store, defaultBudget Budget) *QuotaEnforcer {
	return &QuotaEnforcer{store: store, budgets: make(map[string]Budget), defaultBudget: defaultBudget}
}

// SetBudget overrides the budget for one tenant.
func (q *QuotaEnforcer) SetBudget(tenant string, budget Budget) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.budgets[tenant] = budget
}

func (q *QuotaEnforcer) budgetFor(tenant string) Budget {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if b, ok := q.budgets[tenant]; ok {
		return b
	}
	return q.defaultBudget
}

// Allow implements pipeline.QuotaChecker.
func (q *QuotaEnforcer) Allow(tenant string, tokens int) bool {
	allowed, _ := q.store.Consume(tenant, tokens, q.budgetFor(tenant))
	return allowed
}

// Remaining reports how many tokens tenant has left in the current
// window without consuming any, for diagnostics/headers.
func (q *QuotaEnforcer) Remaining(tenant string) int {
	_, remaining := q.store.Consume(tenant, 0, q.budgetFor(tenant))
	return remaining
}
