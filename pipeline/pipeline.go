// Package pipeline implements the fixed seven-phase plugin pipeline:
// VALIDATE, AUTHORIZE, PRE_PROCESSING, ROUTE, INFERENCE, POST_PROCESSING,
// AUDIT. Phases run in this declared order for every request; within a
// phase, plugins run in ascending Order, ties broken lexicographically by
// ID, matching the stable, config-driven execution this codebase already
// uses for its middleware chains.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/gateway/core"
)

// Phase names one of the seven fixed pipeline stages.
type Phase string

const (
	PhaseValidate      Phase = "VALIDATE"
	PhaseAuthorize     Phase = "AUTHORIZE"
	PhasePreProcessing Phase = "PRE_PROCESSING"
	PhaseRoute         Phase = "ROUTE"
	PhaseInference     Phase = "INFERENCE"
	PhasePostProcessing Phase = "POST_PROCESSING"
	PhaseAudit         Phase = "AUDIT"
)

// Order is the fixed phase execution sequence; nothing in this package
// ever reorders it.
var Order = []Phase{
	PhaseValidate,
	PhaseAuthorize,
	PhasePreProcessing,
	PhaseRoute,
	PhaseInference,
	PhasePostProcessing,
	PhaseAudit,
}

// ErrorPolicy says what a phase does when one of its plugins fails.
type ErrorPolicy int

const (
	// PolicyTerminate aborts the whole request; the phase's first failing
	// error is surfaced to the caller. VALIDATE and AUTHORIZE use this.
	PolicyTerminate ErrorPolicy = iota
	// PolicyPhaseFailure signals the orchestrator to consult retry/failover
	// policy rather than failing outright. PRE_PROCESSING, ROUTE, and
	// INFERENCE use this.
	PolicyPhaseFailure
	// PolicyLogOnly records the failure but lets the request continue.
	// POST_PROCESSING uses this.
	PolicyLogOnly
	// PolicySwallow never surfaces a failure to the caller at all, only
	// logs it. AUDIT uses this — it must never throw.
	PolicySwallow
)

func policyFor(p Phase) ErrorPolicy {
	switch p {
	case PhaseValidate, PhaseAuthorize:
		return PolicyTerminate
	case PhasePreProcessing, PhaseRoute, PhaseInference:
		return PolicyPhaseFailure
	case PhasePostProcessing:
		return PolicyLogOnly
	case PhaseAudit:
		return PolicySwallow
	default:
		return PolicyTerminate
	}
}

// Context is the mutable, single-owner state threaded through every
// plugin invocation for one request. It is intentionally not
// orchestrator.ExecutionContext: the pipeline only needs variables,
// metadata, and the request id, independent of state-machine status,
// which the orchestrator layers on top.
type Context struct {
	RequestID string
	Variables map[string]interface{}
	Metadata  map[string]string
}

// NewContext returns a Context ready for a fresh request.
func NewContext(requestID string) *Context {
	return &Context{
		RequestID: requestID,
		Variables: make(map[string]interface{}),
		Metadata:  make(map[string]string),
	}
}

// Engine is the collaborator surface a plugin's Execute receives back —
// currently just a logger handle, kept as its own type so new shared
// services can be added without changing every plugin's signature.
type Engine struct {
	Logger core.Logger
}

// Plugin is one pipeline collaborator, bound to exactly one phase.
type Plugin interface {
	ID() string
	Phase() Phase
	Order() int
	ShouldExecute(ctx *Context) bool
	Execute(ctx context.Context, pctx *Context, engine *Engine) error
}

// PhaseResult records what happened when one phase ran, for the
// orchestrator's per-phase latency tracking.
type PhaseResult struct {
	Phase    Phase
	Duration time.Duration
	Err      error
	Policy   ErrorPolicy
}

// snapshot is the immutable, phase-bucketed, pre-sorted plugin list a
// Pipeline currently runs. Rebuilt wholesale on every Register/Deregister.
type snapshot struct {
	byPhase map[Phase][]Plugin
}

// Pipeline owns the registered plugins, grouped and sorted by phase.
// Registration is copy-on-write: readers (Run) never observe a partially
// updated plugin set.
type Pipeline struct {
	mu      sync.Mutex
	current *snapshot
}

// New returns an empty Pipeline.
func New() *Pipeline {
	p := &Pipeline{}
	p.current = &snapshot{byPhase: make(map[Phase][]Plugin)}
	return p
}

// Register adds a plugin. Safe to call after the pipeline has started
// serving requests — the next Run observes it, in-flight runs do not.
func (p *Pipeline) Register(plugin Plugin) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.current
	next := &snapshot{byPhase: make(map[Phase][]Plugin, len(old.byPhase))}
	for ph, plugins := range old.byPhase {
		next.byPhase[ph] = append([]Plugin(nil), plugins...)
	}
	next.byPhase[plugin.Phase()] = append(next.byPhase[plugin.Phase()], plugin)
	sort.SliceStable(next.byPhase[plugin.Phase()], func(i, j int) bool {
		a, b := next.byPhase[plugin.Phase()][i], next.byPhase[plugin.Phase()][j]
		if a.Order() != b.Order() {
			return a.Order() < b.Order()
		}
		return a.ID() < b.ID()
	})
	p.current = next
}

func (p *Pipeline) pluginsFor(phase Phase) []Plugin {
	s := p.current
	return s.byPhase[phase]
}

// Run executes every phase in fixed order against pctx, invoking onPhase
// after each phase completes (for lifecycle-event emission) and stopping
// early only when a phase's error policy demands it. It returns the first
// terminating error, if any, and the full set of per-phase results for
// latency tracking.
func (p *Pipeline) Run(ctx context.Context, pctx *Context, engine *Engine, onPhase func(PhaseResult)) ([]PhaseResult, error) {
	results := make([]PhaseResult, 0, len(Order))

	for _, phase := range Order {
		start := time.Now()
		err := p.runPhase(ctx, phase, pctx, engine)
		res := PhaseResult{Phase: phase, Duration: time.Since(start), Err: err, Policy: policyFor(phase)}
		results = append(results, res)
		if onPhase != nil {
			onPhase(res)
		}

		if err == nil {
			continue
		}
		switch res.Policy {
		case PolicyTerminate:
			return results, err
		case PolicyPhaseFailure:
			return results, err
		case PolicyLogOnly, PolicySwallow:
			// Continue to the next phase; the orchestrator/engine already
			// logged via onPhase.
		}
	}
	return results, nil
}

// RunPhase executes a single named phase, for callers that drive phases
// individually instead of through Run's fixed full-pipeline walk — the
// streaming path routes and invokes inline rather than through
// RoutingPlugin/InvokePlugin, but still wants VALIDATE/AUTHORIZE/
// PRE_PROCESSING applied through the same registered plugins.
func (p *Pipeline) RunPhase(ctx context.Context, phase Phase, pctx *Context, engine *Engine) error {
	return p.runPhase(ctx, phase, pctx, engine)
}

// runPhase executes every enabled plugin for one phase, in order, and
// returns the first error encountered. AUDIT plugins never propagate their
// errors past this function: runPhase logs each one and moves on to the
// next plugin, so the AUDIT phase always returns nil.
func (p *Pipeline) runPhase(ctx context.Context, phase Phase, pctx *Context, engine *Engine) error {
	for _, plugin := range p.pluginsFor(phase) {
		if !plugin.ShouldExecute(pctx) {
			continue
		}
		if err := plugin.Execute(ctx, pctx, engine); err != nil {
			if phase == PhaseAudit {
				engine.Logger.Error("audit plugin failed", map[string]interface{}{
					"plugin": plugin.ID(), "error": err.Error(),
				})
				continue
			}
			return wrapPluginError(plugin, phase, err)
		}
	}
	return nil
}

// wrapPluginError attaches the failing phase/plugin to err without
// discarding its classification: a validation failure from a VALIDATE
// plugin must still read as KindValidation to the orchestrator, and an
// adapter error surfaced through INFERENCE must still read as whatever
// Kind the adapter reported, or the terminal/retriable decision in
// orchestrator.fail would only ever see the generic wrapper. Only a
// plugin error with no gateway taxonomy of its own (a bare Go error from
// third-party plugin code) falls back to KindPluginFailure.
func wrapPluginError(plugin Plugin, phase Phase, err error) error {
	kind := core.KindPluginFailure
	var ge *core.GatewayError
	if errors.As(err, &ge) {
		kind = ge.Kind
	}
	return &core.GatewayError{
		Op:      "pipeline." + string(phase),
		Kind:    kind,
		Message: plugin.ID() + " failed",
		Err:     err,
	}
}
