package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/itsneelabh/gateway/breaker"
	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/pipeline"
	"github.com/itsneelabh/gateway/provider"
	"github.com/itsneelabh/gateway/ratelimit"
	"github.com/itsneelabh/gateway/router"
	"github.com/itsneelabh/gateway/statemachine"
)

// Observer receives lifecycle events synchronously in the execution
// thread, per §4.6 point 5. Implementations must not block — the
// orchestrator does not protect itself against a slow observer.
type Observer interface {
	OnStart(ec *ExecutionContext)
	OnPhase(ec *ExecutionContext, result pipeline.PhaseResult)
	OnProviderInvoke(ec *ExecutionContext, providerID domain.ProviderID)
	OnFailover(ec *ExecutionContext, from, to domain.ProviderID, cause error)
	OnSuccess(ec *ExecutionContext, resp domain.InferenceResponse)
	OnFailure(ec *ExecutionContext, err error)
}

// RetryPolicy carries the failover backoff parameters from §4.6 point 6:
// exponential backoff starting at Delay, doubling, capped at Cap, with
// ±20% jitter — randomized uniform jitter rather than the sine-based
// curve this codebase's generic retry helper uses (see DESIGN.md).
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Cap        time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 200 * time.Millisecond, Cap: 30 * time.Second}
}

func backoffWithJitter(attempt int, policy RetryPolicy) time.Duration {
	delay := policy.Delay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > policy.Cap {
			delay = policy.Cap
			break
		}
	}
	jitter := (rand.Float64()*0.4 - 0.2) * float64(delay)
	result := delay + time.Duration(jitter)
	if result < 0 {
		result = 0
	}
	return result
}

// Orchestrator binds every gateway component into the single request loop.
type Orchestrator struct {
	Providers  *provider.Registry
	Repository provider.ModelRepository
	Router     *router.Router
	Breakers   *breaker.Manager
	Limiters   *ratelimit.Manager
	Pipeline   *pipeline.Pipeline
	Logger     core.Logger
	Retry      RetryPolicy

	observers []Observer
}

// New builds an Orchestrator. Zero-value Retry is replaced with the
// package default.
func New(providers *provider.Registry, repo provider.ModelRepository, r *router.Router, breakers *breaker.Manager, limiters *ratelimit.Manager, pl *pipeline.Pipeline, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Orchestrator{
		Providers:  providers,
		Repository: repo,
		Router:     r,
		Breakers:   breakers,
		Limiters:   limiters,
		Pipeline:   pl,
		Logger:     logger,
		Retry:      defaultRetryPolicy(),
	}
}

// AddObserver registers an observer. Copy-on-write per §5: safe to call
// concurrently with Handle.
func (o *Orchestrator) AddObserver(obs Observer) {
	next := make([]Observer, len(o.observers)+1)
	copy(next, o.observers)
	next[len(o.observers)] = obs
	o.observers = next
}

func (o *Orchestrator) notifyPhase(ec *ExecutionContext, result pipeline.PhaseResult) {
	ec.RecordPhase(result.Phase, result.Duration)
	for _, obs := range o.observers {
		obs.OnPhase(ec, result)
	}
}

// Handle runs one request through the full lifecycle: CREATED → RUNNING,
// the seven-phase pipeline (with INFERENCE wrapped in breaker+limiter
// protection and retried per RetryPolicy on retriable failure), then
// COMPLETED or FAILED. POST_PROCESSING and AUDIT run only when the earlier
// phases succeed: on failure the pipeline stops at the failing phase and
// the AUDIT phase does not run; the error reaches every observer through
// OnFailure instead.
func (o *Orchestrator) Handle(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext) (domain.InferenceResponse, error) {
	ec := NewExecutionContext(req, tenant)
	if err := ec.Transition(statemachine.SignalStart); err != nil {
		return domain.InferenceResponse{}, err
	}

	for _, obs := range o.observers {
		obs.OnStart(ec)
	}

	ec.Pipeline.Variables[pipeline.InvokerKey] = o.makeInvoker(ctx, ec)
	ec.Pipeline.Variables[pipeline.RouteResolverKey] = o.makeRouter(ec)

	engine := &pipeline.Engine{Logger: o.Logger}
	_, runErr := o.Pipeline.Run(ctx, ec.Pipeline, engine, func(r pipeline.PhaseResult) {
		o.notifyPhase(ec, r)
	})

	if runErr != nil {
		return o.fail(ec, runErr)
	}

	resp, _ := ec.Pipeline.Variables["response"].(domain.InferenceResponse)
	ec.Response = &resp
	if err := ec.Transition(statemachine.SignalExecutionSuccess); err != nil {
		return o.fail(ec, err)
	}
	for _, obs := range o.observers {
		obs.OnSuccess(ec, resp)
	}
	return resp, nil
}

func (o *Orchestrator) fail(ec *ExecutionContext, err error) (domain.InferenceResponse, error) {
	ec.Fail(err)
	switch {
	case core.KindOf(err) == core.KindCancelled:
		_ = ec.Transition(statemachine.SignalCancel)
	case core.IsTerminal(err):
		_ = ec.Transition(statemachine.SignalTerminalFailure)
	default:
		_ = ec.Transition(statemachine.SignalExecutionFailure)
		_ = ec.Transition(statemachine.SignalRetryExhausted)
	}
	for _, obs := range o.observers {
		obs.OnFailure(ec, err)
	}
	return domain.InferenceResponse{}, err
}

// makeRouter returns the closure the ROUTE phase's RoutingPlugin invokes.
// It also records the resolved decision onto ec so the failover loop in
// makeInvoker can read its fallback list.
func (o *Orchestrator) makeRouter(ec *ExecutionContext) func(pctx *pipeline.Context) (string, interface{}, error) {
	return func(pctx *pipeline.Context) (string, interface{}, error) {
		rc := domain.RoutingContext{
			TenantID:          ec.Tenant.ID,
			PreferredProvider: domain.ProviderID(ec.Request.PreferredProvider),
			Priority:          ec.Request.Priority,
		}
		decision, err := o.Router.Route(ec.Request.Model, ec.Request, rc)
		if err != nil {
			return "", nil, err
		}
		ec.RoutingDecision = &decision
		return string(decision.Selected), decision, nil
	}
}

// makeInvoker returns the closure the INFERENCE phase's InvokePlugin
// invokes: resolve the manifest, wrap the call in circuit breaker and rate
// limiter, retry with backoff on retriable failure per §4.6 point 6.
func (o *Orchestrator) makeInvoker(ctx context.Context, ec *ExecutionContext) func(pctx *pipeline.Context) (interface{}, error) {
	return func(pctx *pipeline.Context) (interface{}, error) {
		providerIDStr, _ := pctx.Variables["selectedProviderId"].(string)
		providerID := domain.ProviderID(providerIDStr)
		excluded := map[domain.ProviderID]bool{}

		var lastErr error
		for attempt := 0; attempt <= o.Retry.MaxRetries; attempt++ {
			if attempt > 0 {
				d := backoffWithJitter(attempt-1, o.Retry)
				select {
				case <-ctx.Done():
					return nil, core.NewGatewayError("orchestrator.invoke", core.KindCancelled, "cancelled while waiting to retry")
				case <-time.After(d):
				}
			}

			resp, err := o.invokeOnce(ctx, ec, providerID)
			if err == nil {
				return resp, nil
			}
			lastErr = err

			switch core.KindOf(err) {
			case core.KindCircuitOpen:
				// Re-route excluding the open provider, without incrementing
				// retries, per §4.4.
				next, ferr := o.failover(ec, pctx, providerID, excluded, err)
				if ferr != nil {
					return nil, err
				}
				providerID = next
				attempt-- // this attempt didn't count against maxRetries
				continue
			case core.KindQuotaExhausted:
				// Re-run routing with the exhausted provider excluded, up to
				// maxRetries, per §4.4.
				if attempt == o.Retry.MaxRetries {
					return nil, err
				}
				next, ferr := o.failover(ec, pctx, providerID, excluded, err)
				if ferr != nil {
					return nil, err
				}
				providerID = next
				continue
			case core.KindTransientProvider:
				if attempt == o.Retry.MaxRetries {
					return nil, err
				}
				continue
			default:
				return nil, err
			}
		}
		return nil, lastErr
	}
}

// failover re-routes away from a provider that just produced a retriable
// failure: current is added to the exclusion set so Router.Route can't
// reselect it, and every observer is told of the switch so an audit sink
// can emit a PROVIDER_FAILOVER record, per §4.4 and §8 scenario 2.
func (o *Orchestrator) failover(ec *ExecutionContext, pctx *pipeline.Context, current domain.ProviderID, excluded map[domain.ProviderID]bool, cause error) (domain.ProviderID, error) {
	excluded[current] = true

	rc := domain.RoutingContext{
		TenantID:          ec.Tenant.ID,
		PreferredProvider: domain.ProviderID(ec.Request.PreferredProvider),
		Priority:          ec.Request.Priority,
		ExcludedProviders: excluded,
	}
	if ec.RoutingDecision != nil {
		rc.PoolID = ec.RoutingDecision.PoolID
		rc.Strategy = ec.RoutingDecision.Strategy
	}

	decision, err := o.Router.Route(ec.Request.Model, ec.Request, rc)
	if err != nil {
		return "", core.ErrNoCompatibleProvider
	}
	ec.RoutingDecision = &decision
	pctx.Variables["selectedProviderId"] = string(decision.Selected)
	pctx.Variables["routingDecision"] = decision

	for _, obs := range o.observers {
		obs.OnFailover(ec, current, decision.Selected, cause)
	}
	return decision.Selected, nil
}

func (o *Orchestrator) invokeOnce(ctx context.Context, ec *ExecutionContext, providerID domain.ProviderID) (domain.InferenceResponse, error) {
	adapter, ok := o.Providers.For(providerID)
	if !ok {
		return domain.InferenceResponse{}, core.NewGatewayError("orchestrator.invoke", core.KindNoCompatibleProvider, "provider not registered: "+string(providerID))
	}

	ok2, wait := o.Limiters.TryAcquire(providerID, ec.Tenant.ID)
	if !ok2 {
		return domain.InferenceResponse{}, &core.GatewayError{
			Op: "orchestrator.invoke", Kind: core.KindRateLimited,
			Message: "rate limit exceeded for " + string(providerID), RetryAfter: wait.Seconds(), Err: core.ErrRateLimited,
		}
	}

	manifest, _ := o.Repository.FindByID(ec.Request.Model, ec.Tenant.ID)
	br := o.Breakers.For(providerID)

	for _, obs := range o.observers {
		obs.OnProviderInvoke(ec, providerID)
	}

	start := time.Now()
	var resp domain.InferenceResponse
	err := br.Execute(ctx, breaker.DefaultErrorClassifier, func(ctx context.Context) error {
		r, callErr := adapter.Infer(ctx, provider.Request{Inference: ec.Request, Manifest: manifest})
		resp = r
		return callErr
	})
	resp.DurationMs = time.Since(start).Milliseconds()
	return resp, err
}
