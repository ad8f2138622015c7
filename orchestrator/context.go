// Package orchestrator binds the state machine, plugin pipeline, provider
// router, circuit breakers, and rate limiters into the single
// request-handling loop described in §4.6: create context, run phases,
// invoke the provider under breaker/limiter protection, retry with
// backoff on retriable failure, and always emit lifecycle events to
// observers before returning.
package orchestrator

import (
	"sync"
	"time"

	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/pipeline"
	"github.com/itsneelabh/gateway/statemachine"
)

// PhaseTiming records how long one pipeline phase took for this request.
type PhaseTiming struct {
	Phase    pipeline.Phase
	Duration time.Duration
}

// ExecutionContext is the mutable, single-owner state for one request as
// it moves through the state machine and pipeline. Exactly one goroutine
// owns it at a time — plugins run sequentially within a request, per §5 —
// so its exported fields need no internal locking of their own; the mutex
// here guards the status, the recorded error (Fail/Err) and PhaseTimings
// (RecordPhase), which observers may read concurrently for diagnostics
// while the owning goroutine keeps running.
type ExecutionContext struct {
	RequestID string
	Tenant    domain.TenantContext
	Request   domain.InferenceRequest
	Pipeline  *pipeline.Context

	mu        sync.RWMutex
	status    statemachine.Status
	startedAt time.Time
	err       error

	PhaseTimings []PhaseTiming
	RoutingDecision *domain.RoutingDecision
	Response        *domain.InferenceResponse
}

// NewExecutionContext begins a request in the CREATED state, per §4.6
// point 1 (the transition to RUNNING happens in Orchestrator.Handle, once
// the caller is ready to start the pipeline).
func NewExecutionContext(req domain.InferenceRequest, tenant domain.TenantContext) *ExecutionContext {
	pctx := pipeline.NewContext(req.RequestID)
	pctx.Variables["model"] = req.Model
	pctx.Variables["messageCount"] = len(req.Messages)
	pctx.Variables["tenantId"] = string(tenant.ID)

	turns := make([]string, len(req.Messages))
	var chars int
	for i, m := range req.Messages {
		turns[i] = m.Content
		chars += len(m.Content)
	}
	pctx.Variables["messages"] = turns
	if len(turns) > 0 {
		pctx.Variables["content"] = turns[len(turns)-1]
	}
	// Rough token estimate (~4 chars/token in English) until a real
	// tokenizer is wired in; good enough for quota-budget gating.
	pctx.Variables["estimatedTokens"] = chars / 4

	return &ExecutionContext{
		RequestID: req.RequestID,
		Tenant:    tenant,
		Request:   req,
		Pipeline:  pctx,
		status:    statemachine.StatusCreated,
		startedAt: time.Now(),
	}
}

// Status returns the current lifecycle status, safe for concurrent reads.
func (ec *ExecutionContext) Status() statemachine.Status {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.status
}

// Transition advances the status via the state machine's transition
// table, returning an error if the signal is illegal from the current
// state.
func (ec *ExecutionContext) Transition(signal statemachine.Signal) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	next, err := statemachine.Next(ec.status, signal)
	if err != nil {
		return err
	}
	ec.status = next
	return nil
}

// Fail records the terminal error and leaves Status() to be advanced
// separately via Transition — Orchestrator.fail picks the signal
// (SignalCancel, SignalTerminalFailure, or SignalExecutionFailure then
// SignalRetryExhausted), so the caller controls when the transition
// happens.
func (ec *ExecutionContext) Fail(err error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.err = err
}

// Err returns the terminal error, if any.
func (ec *ExecutionContext) Err() error {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.err
}

// Elapsed is how long the request has been running.
func (ec *ExecutionContext) Elapsed() time.Duration {
	return time.Since(ec.startedAt)
}

// RecordPhase appends one phase's timing, in the order phases complete.
func (ec *ExecutionContext) RecordPhase(phase pipeline.Phase, d time.Duration) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.PhaseTimings = append(ec.PhaseTimings, PhaseTiming{Phase: phase, Duration: d})
}
