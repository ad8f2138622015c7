// Package audit builds tamper-evident AuditPayload records and fans them
// out to registered sinks, and bridges the orchestrator's lifecycle
// events and the pipeline's AUDIT-phase plugin to those sinks without
// either package needing to know a concrete sink implementation exists.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/orchestrator"
	"github.com/itsneelabh/gateway/pipeline"
)

// Sink receives a fully built AuditPayload. Implementations must not
// block the caller for long — Emit runs synchronously in the request
// path, same as orchestrator.Observer.
type Sink interface {
	Emit(payload domain.AuditPayload)
}

// Builder constructs AuditPayloads with a stable content hash, per the
// §3 AuditPayload invariant ("hash computed over canonical joined
// fields"). NodeID identifies the gateway process/instance emitting the
// record.
type Builder struct {
	NodeID string
}

// Build assembles one payload and computes its hash over
// timestamp|runId|nodeId|actorId|event, matching the field order named
// in the data model.
func (b Builder) Build(runID string, actor domain.AuditActor, event string, level domain.AuditLevel, tags []string, metadata, snapshot map[string]string) domain.AuditPayload {
	ts := time.Now().UTC()
	payload := domain.AuditPayload{
		Timestamp:       ts,
		RunID:           runID,
		NodeID:          b.NodeID,
		Actor:           actor,
		Event:           event,
		Level:           level,
		Tags:            tags,
		Metadata:        metadata,
		ContextSnapshot: snapshot,
	}
	payload.Hash = hashPayload(ts, runID, b.NodeID, actor.ID, event)
	return payload
}

func hashPayload(ts time.Time, runID, nodeID, actorID, event string) string {
	joined := fmt.Sprintf("%s|%s|%s|%s|%s", ts.Format(time.RFC3339Nano), runID, nodeID, actorID, event)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// Observer fans out every orchestrator lifecycle event to the registered
// sinks as an AuditPayload, and doubles as the pipeline's AuditSink so
// the AUDIT-phase plugin reuses the same fan-out. Registration is
// copy-on-write, consistent with every other registry in this codebase.
type Observer struct {
	builder Builder

	mu    sync.Mutex
	sinks []Sink
}

// NewObserver builds an audit Observer with nodeID identifying this
// gateway instance in emitted records.
func NewObserver(nodeID string) *Observer {
	return &Observer{builder: Builder{NodeID: nodeID}}
}

// AddSink registers a sink. Safe to call concurrently with Emit/OnPhase.
func (o *Observer) AddSink(sink Sink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := make([]Sink, len(o.sinks)+1)
	copy(next, o.sinks)
	next[len(o.sinks)] = sink
	o.sinks = next
}

func (o *Observer) emit(runID, event string, level domain.AuditLevel, metadata map[string]string) {
	o.emitWithSnapshot(runID, event, level, metadata, nil)
}

func (o *Observer) emitWithSnapshot(runID, event string, level domain.AuditLevel, metadata, snapshot map[string]string) {
	o.mu.Lock()
	sinks := o.sinks
	o.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	actor := domain.AuditActor{Type: domain.ActorSystem, ID: "gateway", Role: "orchestrator"}
	payload := o.builder.Build(runID, actor, event, level, nil, metadata, snapshot)
	for _, s := range sinks {
		s.Emit(payload)
	}
}

// Emit implements pipeline.AuditSink: the AUDIT-phase plugin calls this
// once per request with the pipeline context's metadata as the snapshot.
func (o *Observer) Emit(event string, pctx *pipeline.Context) {
	o.emitWithSnapshot(pctx.RequestID, event, domain.AuditInfo, pctx.Metadata, pctx.Metadata)
}

var _ pipeline.AuditSink = (*Observer)(nil)
var _ orchestrator.Observer = (*Observer)(nil)

// OnStart implements orchestrator.Observer.
func (o *Observer) OnStart(ec *orchestrator.ExecutionContext) {
	o.emit(ec.RequestID, "execution.start", domain.AuditInfo, nil)
}

// OnPhase implements orchestrator.Observer, emitting one record per
// completed pipeline phase with its duration and outcome.
func (o *Observer) OnPhase(ec *orchestrator.ExecutionContext, result pipeline.PhaseResult) {
	level := domain.AuditInfo
	meta := map[string]string{
		"phase":      string(result.Phase),
		"durationMs": fmt.Sprintf("%d", result.Duration.Milliseconds()),
	}
	if result.Err != nil {
		level = domain.AuditWarn
		meta["error"] = result.Err.Error()
	}
	o.emit(ec.RequestID, "phase."+string(result.Phase), level, meta)
}

// OnProviderInvoke implements orchestrator.Observer.
func (o *Observer) OnProviderInvoke(ec *orchestrator.ExecutionContext, providerID domain.ProviderID) {
	o.emit(ec.RequestID, "provider.invoke", domain.AuditInfo, map[string]string{"providerId": string(providerID)})
}

// OnFailover implements orchestrator.Observer, emitting the PROVIDER_FAILOVER
// record §8 scenario 2 requires whenever the invoker re-routes away from a
// provider mid-request.
func (o *Observer) OnFailover(ec *orchestrator.ExecutionContext, from, to domain.ProviderID, cause error) {
	o.emit(ec.RequestID, "PROVIDER_FAILOVER", domain.AuditWarn, map[string]string{
		"fromProviderId": string(from),
		"toProviderId":   string(to),
		"cause":          string(core.KindOf(cause)),
	})
}

// OnSuccess implements orchestrator.Observer.
func (o *Observer) OnSuccess(ec *orchestrator.ExecutionContext, resp domain.InferenceResponse) {
	o.emit(ec.RequestID, "execution.success", domain.AuditInfo, map[string]string{
		"tokensUsed": fmt.Sprintf("%d", resp.TokensUsed),
		"durationMs": fmt.Sprintf("%d", resp.DurationMs),
	})
}

// OnFailure implements orchestrator.Observer.
func (o *Observer) OnFailure(ec *orchestrator.ExecutionContext, err error) {
	o.emit(ec.RequestID, "execution.failure", domain.AuditError, map[string]string{
		"kind":  string(core.KindOf(err)),
		"error": err.Error(),
	})
}

// NewRunID generates a fresh run id for a record not tied to a request
// (e.g. a health-probe audit entry), following the request-id-generation
// convention described for callers that do not supply one.
func NewRunID() string {
	return uuid.NewString()
}
