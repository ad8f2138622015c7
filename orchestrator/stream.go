package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/itsneelabh/gateway/breaker"
	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/pipeline"
	"github.com/itsneelabh/gateway/provider"
	"github.com/itsneelabh/gateway/statemachine"
	"github.com/itsneelabh/gateway/stream"
)

// ChunkDeliverer receives one tagged chunk of a streaming response, in the
// same role domain.StreamChunk plays for HandleStream's caller as
// domain.InferenceResponse plays for Handle's.
type ChunkDeliverer func(domain.StreamChunk) error

// HandleStream runs one streaming request: VALIDATE/AUTHORIZE/PRE_PROCESSING
// still go through the plugin pipeline exactly as Handle does, but
// ROUTE/INFERENCE bypass InvokePlugin/RoutingPlugin — a stream.Stream
// can't be expressed as the single interface{} value InvokePlugin's
// closure returns — and instead route and invoke inline here, handing the
// resolved StreamingAdapter's chunk source to stream.Stream for
// backpressure, idle-timeout, and tool-call tagging.
func (o *Orchestrator) HandleStream(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext, streamCfg stream.Config, deliver ChunkDeliverer) error {
	ec := NewExecutionContext(req, tenant)
	if err := ec.Transition(statemachine.SignalStart); err != nil {
		return err
	}
	for _, obs := range o.observers {
		obs.OnStart(ec)
	}

	if err := o.runPreRoutePhases(ctx, ec); err != nil {
		_, ferr := o.fail(ec, err)
		return ferr
	}

	rc := domain.RoutingContext{
		TenantID:          tenant.ID,
		PreferredProvider: domain.ProviderID(req.PreferredProvider),
		Priority:          req.Priority,
	}
	decision, err := o.Router.Route(req.Model, req, rc)
	if err != nil {
		_, ferr := o.fail(ec, err)
		return ferr
	}
	ec.RoutingDecision = &decision

	providerID := decision.Selected
	adapter, ok := o.Providers.For(providerID)
	if !ok {
		_, ferr := o.fail(ec, core.NewGatewayError("orchestrator.streamInvoke", core.KindNoCompatibleProvider, "provider not registered: "+string(providerID)))
		return ferr
	}
	streamer, ok := adapter.(provider.StreamingAdapter)
	if !ok {
		_, ferr := o.fail(ec, core.NewGatewayError("orchestrator.streamInvoke", core.KindPermanentProvider, "provider does not support streaming: "+string(providerID)))
		return ferr
	}

	allowed, wait := o.Limiters.TryAcquire(providerID, tenant.ID)
	if !allowed {
		_, ferr := o.fail(ec, &core.GatewayError{
			Op: "orchestrator.streamInvoke", Kind: core.KindRateLimited,
			Message: "rate limit exceeded for " + string(providerID), RetryAfter: wait.Seconds(), Err: core.ErrRateLimited,
		})
		return ferr
	}

	manifest, _ := o.Repository.FindByID(req.Model, tenant.ID)
	br := o.Breakers.For(providerID)

	for _, obs := range o.observers {
		obs.OnProviderInvoke(ec, providerID)
	}

	s := stream.New(streamCfg, o.Logger)
	start := time.Now()
	var chunkCount int
	runErr := br.Execute(ctx, breaker.DefaultErrorClassifier, func(ctx context.Context) error {
		source := func(ctx context.Context, onChunk func(domain.StreamChunk) error) error {
			return streamer.InferStream(ctx, provider.Request{Inference: req, Manifest: manifest}, provider.ChunkFunc(onChunk))
		}
		return s.Run(ctx, source, deliver, stream.Callbacks{
			OnComplete: func(total int) { chunkCount = total },
			OnCancel: func(reason string) {
				o.Logger.Info("stream cancelled", map[string]interface{}{
					"requestId":  ec.RequestID,
					"providerId": string(providerID),
					"reason":     reason,
				})
			},
			OnError: func(err error) {
				o.Logger.Warn("stream failed", map[string]interface{}{
					"requestId":  ec.RequestID,
					"providerId": string(providerID),
					"error":      err.Error(),
				})
			},
		})
	})

	if runErr != nil {
		_, ferr := o.fail(ec, runErr)
		return ferr
	}

	resp := domain.InferenceResponse{
		RequestID:  req.RequestID,
		Model:      req.Model,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   map[string]string{"chunks": strconv.Itoa(chunkCount)},
	}
	ec.Response = &resp
	if err := ec.Transition(statemachine.SignalExecutionSuccess); err != nil {
		_, ferr := o.fail(ec, err)
		return ferr
	}
	for _, obs := range o.observers {
		obs.OnSuccess(ec, resp)
	}
	return nil
}

// preRoutePhases are the phases HandleStream runs through the registered
// pipeline before taking over routing/invocation itself.
var preRoutePhases = []pipeline.Phase{pipeline.PhaseValidate, pipeline.PhaseAuthorize, pipeline.PhasePreProcessing}

// runPreRoutePhases runs VALIDATE, AUTHORIZE, and PRE_PROCESSING against
// ec.Pipeline — the three phases whose plugins don't need
// RouteResolverKey/InvokerKey — reporting each completed phase to
// observers exactly as Handle's full pipeline.Run does.
func (o *Orchestrator) runPreRoutePhases(ctx context.Context, ec *ExecutionContext) error {
	engine := &pipeline.Engine{Logger: o.Logger}
	for _, phase := range preRoutePhases {
		start := time.Now()
		err := o.Pipeline.RunPhase(ctx, phase, ec.Pipeline, engine)
		result := pipeline.PhaseResult{Phase: phase, Duration: time.Since(start), Err: err}
		o.notifyPhase(ec, result)
		if err != nil {
			return err
		}
	}
	return nil
}
