package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/itsneelabh/gateway/breaker"
	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/pipeline"
	"github.com/itsneelabh/gateway/provider"
	"github.com/itsneelabh/gateway/ratelimit"
	"github.com/itsneelabh/gateway/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	id     domain.ProviderID
	fail   error
	calls  int
}

func (s *stubAdapter) ID() domain.ProviderID                    { return s.id }
func (s *stubAdapter) Name() string                             { return string(s.id) }
func (s *stubAdapter) Capabilities() domain.ProviderCapabilities { return domain.ProviderCapabilities{} }
func (s *stubAdapter) Initialize(ctx context.Context, config map[string]interface{}) error {
	return nil
}
func (s *stubAdapter) Shutdown(ctx context.Context) error { return nil }
func (s *stubAdapter) Supports(modelID string, req domain.InferenceRequest) bool {
	return true
}
func (s *stubAdapter) Infer(ctx context.Context, req provider.Request) (domain.InferenceResponse, error) {
	s.calls++
	if s.fail != nil {
		return domain.InferenceResponse{}, s.fail
	}
	return domain.InferenceResponse{RequestID: req.Inference.RequestID, Content: "ok from " + string(s.id)}, nil
}
func (s *stubAdapter) Health(ctx context.Context) domain.ProviderHealth {
	return domain.ProviderHealth{Status: domain.HealthHealthy}
}

type staticSource struct{ candidates []router.Candidate }

func (s staticSource) CandidatesFor(modelID string, req domain.InferenceRequest) []router.Candidate {
	return s.candidates
}

func buildOrchestrator(t *testing.T, adapters ...*stubAdapter) (*Orchestrator, *provider.Registry) {
	t.Helper()
	registry := provider.NewRegistry()
	candidates := make([]router.Candidate, 0, len(adapters))
	for _, a := range adapters {
		require.NoError(t, registry.Register(domain.ProviderDescriptor{ID: a.id}, a))
		candidates = append(candidates, router.Candidate{
			Descriptor: domain.ProviderDescriptor{ID: a.id},
			Health:     domain.ProviderHealth{Status: domain.HealthHealthy},
		})
	}
	r := router.New(staticSource{candidates: candidates}, router.NewConfig(""))
	breakers := breaker.NewManager(breaker.Config{FailureThreshold: 100, RollingWindow: time.Minute, OpenDuration: time.Millisecond, ProbePermits: 1, SuccessThreshold: 1, BucketCount: 10})
	limiters := ratelimit.NewManager(ratelimit.Config{Algorithm: ratelimit.AlgorithmTokenBucket, Capacity: 1000, RefillPeriod: time.Second})
	pl := pipeline.New()
	pl.Register(pipeline.NewRoutingPlugin(0))
	pl.Register(pipeline.NewInvokePlugin(0))

	o := New(registry, provider.NewStaticRepository(), r, breakers, limiters, pl, &core.NoOpLogger{})
	o.Retry = RetryPolicy{MaxRetries: 2, Delay: time.Millisecond, Cap: 10 * time.Millisecond}
	return o, registry
}

func TestHandleSucceeds(t *testing.T) {
	a := &stubAdapter{id: "p1"}
	o, _ := buildOrchestrator(t, a)

	resp, err := o.Handle(context.Background(), domain.InferenceRequest{RequestID: "r1", Model: "m1"}, domain.TenantContext{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "ok from p1", resp.Content)
	assert.Equal(t, 1, a.calls)
}

func TestHandleRetriesTransientFailure(t *testing.T) {
	a := &stubAdapter{id: "p1", fail: core.NewGatewayError("x", core.KindTransientProvider, "503")}
	o, _ := buildOrchestrator(t, a)

	_, err := o.Handle(context.Background(), domain.InferenceRequest{RequestID: "r1", Model: "m1"}, domain.TenantContext{ID: "t1"})
	require.Error(t, err)
	assert.Equal(t, 3, a.calls, "maxRetries=2 means 3 total attempts")
}

func TestHandleSurfacesPermanentProviderErrorWithoutRetry(t *testing.T) {
	a := &stubAdapter{id: "p1", fail: core.NewGatewayError("x", core.KindPermanentProvider, "400")}
	o, _ := buildOrchestrator(t, a)

	_, err := o.Handle(context.Background(), domain.InferenceRequest{RequestID: "r1", Model: "m1"}, domain.TenantContext{ID: "t1"})
	require.Error(t, err)
	assert.Equal(t, 1, a.calls, "permanent provider errors are not retriable")
}

type recordingObserver struct {
	started, succeeded, failed bool
	phases                     int
}

func (r *recordingObserver) OnStart(ec *ExecutionContext)                                 { r.started = true }
func (r *recordingObserver) OnPhase(ec *ExecutionContext, result pipeline.PhaseResult)     { r.phases++ }
func (r *recordingObserver) OnProviderInvoke(ec *ExecutionContext, providerID domain.ProviderID) {
}
func (r *recordingObserver) OnFailover(ec *ExecutionContext, from, to domain.ProviderID, cause error) {
}
func (r *recordingObserver) OnSuccess(ec *ExecutionContext, resp domain.InferenceResponse) { r.succeeded = true }
func (r *recordingObserver) OnFailure(ec *ExecutionContext, err error)                     { r.failed = true }

func TestObserversNotifiedOnSuccess(t *testing.T) {
	a := &stubAdapter{id: "p1"}
	o, _ := buildOrchestrator(t, a)
	obs := &recordingObserver{}
	o.AddObserver(obs)

	_, err := o.Handle(context.Background(), domain.InferenceRequest{RequestID: "r1", Model: "m1"}, domain.TenantContext{ID: "t1"})
	require.NoError(t, err)
	assert.True(t, obs.started)
	assert.True(t, obs.succeeded)
	assert.False(t, obs.failed)
	assert.Equal(t, 7, obs.phases)
}

func TestBackoffWithJitterDoublesAndCaps(t *testing.T) {
	policy := RetryPolicy{Delay: time.Second, Cap: 3 * time.Second}
	d := backoffWithJitter(5, policy)
	assert.LessOrEqual(t, d, policy.Cap+policy.Cap/5, "capped delay plus jitter must not exceed cap by more than the jitter bound")
}
