package audit

import (
	"context"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
)

// LogSink writes audit payloads through the gateway's structured logger.
// cmd/gateway always wires this sink; a TelemetrySink is added beside it
// only when telemetry is configured.
type LogSink struct {
	Logger core.Logger
}

// NewLogSink builds a LogSink, defaulting to a no-op logger if nil.
func NewLogSink(logger core.Logger) *LogSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Emit(payload domain.AuditPayload) {
	fields := map[string]interface{}{
		"runId":  payload.RunID,
		"nodeId": payload.NodeID,
		"event":  payload.Event,
		"hash":   payload.Hash,
		"actor":  payload.Actor.ID,
	}
	for k, v := range payload.Metadata {
		fields[k] = v
	}
	switch payload.Level {
	case domain.AuditError, domain.AuditCritical:
		s.Logger.Error(payload.Event, fields)
	case domain.AuditWarn:
		s.Logger.Warn(payload.Event, fields)
	default:
		s.Logger.Info(payload.Event, fields)
	}
}

// TelemetrySink translates each audit payload into an OTel span with the
// payload's fields as attributes, giving every phase/lifecycle event a
// trace the rest of the OTel stack (metrics, traces) can correlate
// against by runId.
type TelemetrySink struct {
	Telemetry core.Telemetry
}

// NewTelemetrySink builds a TelemetrySink over any core.Telemetry
// implementation — typically *OTelTelemetry, but core.NoOpTelemetry works
// for tests.
func NewTelemetrySink(t core.Telemetry) *TelemetrySink {
	return &TelemetrySink{Telemetry: t}
}

func (s *TelemetrySink) Emit(payload domain.AuditPayload) {
	_, span := s.Telemetry.StartSpan(context.Background(), payload.Event)
	span.SetAttribute("runId", payload.RunID)
	span.SetAttribute("nodeId", payload.NodeID)
	span.SetAttribute("actorId", payload.Actor.ID)
	span.SetAttribute("level", string(payload.Level))
	span.SetAttribute("hash", payload.Hash)
	for k, v := range payload.Metadata {
		span.SetAttribute(k, v)
	}
	span.End()
	s.Telemetry.RecordMetric("audit_events_total", 1, map[string]string{"event": payload.Event})
}
