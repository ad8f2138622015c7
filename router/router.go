package router

import (
	"errors"
	"time"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
)

// ErrNoCandidates is returned by a strategy when the incoming candidate
// set is already empty — distinct from core.ErrNoCompatibleProvider,
// which the Router itself returns after filtering finds nothing at all.
var ErrNoCandidates = errors.New("router: no candidates to select from")

// ErrNoPreferredProvider is returned by USER_SELECTED when no preferred
// provider was named, or the named one isn't in the candidate set.
var ErrNoPreferredProvider = errors.New("router: preferred provider not specified or not available")

// CandidateSource resolves which providers support a model, and provides
// the live signal (health, load, latency) each strategy needs. The
// orchestrator supplies an implementation backed by the provider registry
// and its own tracked metrics.
type CandidateSource interface {
	CandidatesFor(modelID string, req domain.InferenceRequest) []Candidate
}

// Router resolves a RoutingDecision for one request: candidate resolution,
// filtering, strategy selection, per §4.4.
type Router struct {
	source     CandidateSource
	strategies map[domain.RoutingStrategy]Strategy
	config     *Config
}

// New builds a Router. config owns the hot-reloadable routing
// configuration (default strategy, pools, weights, failover policy).
func New(source CandidateSource, config *Config) *Router {
	return &Router{source: source, strategies: ByStrategy(), config: config}
}

func healthAllowed(h domain.ProviderHealth) bool {
	return h.Status == domain.HealthHealthy || h.Status == domain.HealthDegraded
}

// Route resolves, filters, and selects a provider for one request.
func (r *Router) Route(modelID string, req domain.InferenceRequest, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	cfg := r.config.Snapshot()

	candidates := r.source.CandidatesFor(modelID, req)

	if rc.PoolID != "" {
		if pool, ok := cfg.Pools[rc.PoolID]; ok {
			allowed := make(map[domain.ProviderID]bool, len(pool.Providers))
			for _, id := range pool.Providers {
				allowed[id] = true
			}
			candidates = filterCandidates(candidates, func(c Candidate) bool { return allowed[c.Descriptor.ID] })
		}
	}
	if len(rc.ExcludedProviders) > 0 {
		candidates = filterCandidates(candidates, func(c Candidate) bool { return !rc.ExcludedProviders[c.Descriptor.ID] })
	}
	candidates = filterCandidates(candidates, func(c Candidate) bool { return healthAllowed(c.Health) })

	if len(candidates) == 0 {
		return domain.RoutingDecision{}, &core.GatewayError{
			Op:      "router.Route",
			Kind:    core.KindNoCompatibleProvider,
			Message: "no healthy provider supports model " + modelID,
			Err:     core.ErrNoCompatibleProvider,
		}
	}

	strategyName := rc.Strategy
	if strategyName == "" {
		strategyName = cfg.DefaultStrategy
	}
	if strategyName == "" {
		strategyName = domain.StrategyScored
	}
	strategy, ok := r.strategies[strategyName]
	if !ok {
		strategy = r.strategies[domain.StrategyScored]
		strategyName = domain.StrategyScored
	}

	result, err := strategy.Select(candidates, rc, cfg)
	if err != nil {
		return domain.RoutingDecision{}, &core.GatewayError{
			Op:      "router.Route",
			Kind:    core.KindNoCompatibleProvider,
			Message: err.Error(),
			Err:     core.ErrNoCompatibleProvider,
		}
	}

	return domain.RoutingDecision{
		Selected:  result.Selected,
		PoolID:    rc.PoolID,
		Strategy:  strategyName,
		Score:     result.Score,
		Fallbacks: result.Fallbacks,
		Timestamp: time.Now(),
	}, nil
}

func filterCandidates(in []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
