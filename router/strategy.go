// Package router implements the Provider Router: candidate resolution over
// the registered providers followed by one of nine pluggable selection
// strategies, each a pure function of (candidates, routing context,
// routing config).
package router

import (
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/itsneelabh/gateway/domain"
)

// Candidate is one provider under consideration, carrying the live signal
// the strategies need (health, load, latency) alongside its static
// descriptor.
type Candidate struct {
	Descriptor domain.ProviderDescriptor
	Health     domain.ProviderHealth
	ActiveReqs int64
	P95LatencyMs float64
}

// Strategy selects one candidate (and up to two ordered fallbacks) from a
// filtered candidate set. Implementations must not mutate candidates.
type Strategy interface {
	Select(candidates []Candidate, rc domain.RoutingContext, cfg domain.RoutingConfig) (Result, error)
}

// Result is what a strategy produces; the router wraps it into a
// domain.RoutingDecision with the strategy name and a timestamp.
type Result struct {
	Selected  domain.ProviderID
	Score     float64
	Fallbacks []domain.ProviderID
}

func fallbacksExcluding(ordered []Candidate, selected domain.ProviderID, max int) []domain.ProviderID {
	out := make([]domain.ProviderID, 0, max)
	for _, c := range ordered {
		if c.Descriptor.ID == selected {
			continue
		}
		out = append(out, c.Descriptor.ID)
		if len(out) == max {
			break
		}
	}
	return out
}

// roundRobinStrategy rotates deterministically through candidates using a
// per-strategy atomic counter, modulo the current candidate count.
type roundRobinStrategy struct {
	counter atomic.Uint64
}

func NewRoundRobin() Strategy { return &roundRobinStrategy{} }

func (s *roundRobinStrategy) Select(candidates []Candidate, _ domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	idx := s.counter.Add(1) - 1
	ordered := append([]Candidate(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Descriptor.ID < ordered[j].Descriptor.ID })
	selected := ordered[int(idx)%len(ordered)]
	return Result{Selected: selected.Descriptor.ID, Fallbacks: fallbacksExcluding(ordered, selected.Descriptor.ID, 2)}, nil
}

// randomStrategy selects uniformly at random.
type randomStrategy struct{}

func NewRandom() Strategy { return &randomStrategy{} }

func (s *randomStrategy) Select(candidates []Candidate, _ domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	idx := rand.Intn(len(candidates))
	return Result{Selected: candidates[idx].Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, candidates[idx].Descriptor.ID, 2)}, nil
}

// weightedRandomStrategy picks with probability proportional to each
// candidate's configured weight (falling back to the descriptor's own
// weight when the config has none for that provider).
type weightedRandomStrategy struct{}

func NewWeightedRandom() Strategy { return &weightedRandomStrategy{} }

func weightOf(c Candidate, cfg domain.RoutingConfig) float64 {
	if w, ok := cfg.ProviderWeights[c.Descriptor.ID]; ok {
		return w
	}
	if c.Descriptor.Weight > 0 {
		return c.Descriptor.Weight
	}
	return 1
}

func (s *weightedRandomStrategy) Select(candidates []Candidate, _ domain.RoutingContext, cfg domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	var total float64
	weights := make([]float64, len(candidates))
	for i, c := range candidates {
		w := weightOf(c, cfg)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return Result{Selected: candidates[0].Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, candidates[0].Descriptor.ID, 2)}, nil
	}
	r := rand.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return Result{Selected: candidates[i].Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, candidates[i].Descriptor.ID, 2)}, nil
		}
	}
	last := candidates[len(candidates)-1]
	return Result{Selected: last.Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, last.Descriptor.ID, 2)}, nil
}

// leastLoadedStrategy picks the candidate with the fewest active requests;
// ties are broken by candidate order (stable).
type leastLoadedStrategy struct{}

func NewLeastLoaded() Strategy { return &leastLoadedStrategy{} }

func (s *leastLoadedStrategy) Select(candidates []Candidate, _ domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ActiveReqs < best.ActiveReqs {
			best = c
		}
	}
	return Result{Selected: best.Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, best.Descriptor.ID, 2)}, nil
}

func costScore(tier domain.CostTier) float64 {
	switch tier {
	case domain.CostTierLocal:
		return 100
	case domain.CostTierCloud:
		return 20
	default:
		return 50
	}
}

// costOptimizedStrategy scores local/free tiers highest, cloud lowest, and
// unknown in between, per §4.4.
type costOptimizedStrategy struct{}

func NewCostOptimized() Strategy { return &costOptimizedStrategy{} }

func (s *costOptimizedStrategy) Select(candidates []Candidate, _ domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return costScore(ordered[i].Descriptor.CostTier) > costScore(ordered[j].Descriptor.CostTier)
	})
	best := ordered[0]
	return Result{Selected: best.Descriptor.ID, Score: costScore(best.Descriptor.CostTier), Fallbacks: fallbacksExcluding(ordered, best.Descriptor.ID, 2)}, nil
}

// latencyOptimizedStrategy picks the minimum observed P95 latency.
type latencyOptimizedStrategy struct{}

func NewLatencyOptimized() Strategy { return &latencyOptimizedStrategy{} }

func (s *latencyOptimizedStrategy) Select(candidates []Candidate, _ domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].P95LatencyMs < ordered[j].P95LatencyMs })
	best := ordered[0]
	return Result{Selected: best.Descriptor.ID, Score: best.P95LatencyMs, Fallbacks: fallbacksExcluding(ordered, best.Descriptor.ID, 2)}, nil
}

// failoverStrategy walks an ordered candidate list and picks the first
// HEALTHY one, falling back to DEGRADED if nothing is fully healthy
// (candidates were already filtered to exclude UNHEALTHY upstream).
type failoverStrategy struct{}

func NewFailover() Strategy { return &failoverStrategy{} }

func (s *failoverStrategy) Select(candidates []Candidate, _ domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	for _, c := range candidates {
		if c.Health.Status == domain.HealthHealthy {
			return Result{Selected: c.Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, c.Descriptor.ID, 2)}, nil
		}
	}
	first := candidates[0]
	return Result{Selected: first.Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, first.Descriptor.ID, 2)}, nil
}

// scoredStrategy is the default: an additive score combining preference,
// health, cost-sensitivity, weight, locality preference, and priority.
// Negative totals are clamped to 0; highest score wins.
type scoredStrategy struct{}

func NewScored() Strategy { return &scoredStrategy{} }

func scoreOf(c Candidate, rc domain.RoutingContext, cfg domain.RoutingConfig) float64 {
	var score float64
	if rc.PreferredProvider != "" && rc.PreferredProvider == c.Descriptor.ID {
		score += 100
	}
	switch c.Health.Status {
	case domain.HealthHealthy:
		score += 50
	case domain.HealthDegraded:
		score += 25
	}
	isLocal := c.Descriptor.CostTier == domain.CostTierLocal
	if rc.CostSensitive && isLocal {
		score += 30
	}
	score += weightOf(c, cfg) * 5
	if rc.PreferLocal && isLocal {
		score += 20
	}
	score += float64(rc.Priority)
	if score < 0 {
		score = 0
	}
	return score
}

func (s *scoredStrategy) Select(candidates []Candidate, rc domain.RoutingContext, cfg domain.RoutingConfig) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	type scored struct {
		c     Candidate
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{c: c, score: scoreOf(c, rc, cfg)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	ordered := make([]Candidate, len(ranked))
	for i, r := range ranked {
		ordered[i] = r.c
	}
	best := ranked[0]
	return Result{Selected: best.c.Descriptor.ID, Score: best.score, Fallbacks: fallbacksExcluding(ordered, best.c.Descriptor.ID, 2)}, nil
}

// userSelectedStrategy requires an exact match on the requested provider.
type userSelectedStrategy struct{}

func NewUserSelected() Strategy { return &userSelectedStrategy{} }

func (s *userSelectedStrategy) Select(candidates []Candidate, rc domain.RoutingContext, _ domain.RoutingConfig) (Result, error) {
	if rc.PreferredProvider == "" {
		return Result{}, ErrNoPreferredProvider
	}
	for _, c := range candidates {
		if c.Descriptor.ID == rc.PreferredProvider {
			return Result{Selected: c.Descriptor.ID, Fallbacks: fallbacksExcluding(candidates, c.Descriptor.ID, 2)}, nil
		}
	}
	return Result{}, ErrNoPreferredProvider
}

// ByStrategy maps a routing strategy name to its implementation. SCORED is
// the default used when a routing context names no strategy and the
// config has none either.
func ByStrategy() map[domain.RoutingStrategy]Strategy {
	return map[domain.RoutingStrategy]Strategy{
		domain.StrategyRoundRobin:       NewRoundRobin(),
		domain.StrategyRandom:           NewRandom(),
		domain.StrategyWeightedRandom:   NewWeightedRandom(),
		domain.StrategyLeastLoaded:      NewLeastLoaded(),
		domain.StrategyCostOptimized:    NewCostOptimized(),
		domain.StrategyLatencyOptimized: NewLatencyOptimized(),
		domain.StrategyFailover:         NewFailover(),
		domain.StrategyScored:           NewScored(),
		domain.StrategyUserSelected:     NewUserSelected(),
	}
}
