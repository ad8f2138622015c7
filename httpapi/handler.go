// Package httpapi exposes the Inference Orchestrator over HTTP: a single
// unary JSON endpoint and a Server-Sent Events endpoint for streaming
// requests, following this codebase's own SSE transport for the
// flusher/event-write idiom. Every exit translates through Kind, never an
// ad hoc status-code switch scattered across handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
)

// TenantHeader carries the opaque tenant identity at the gateway edge.
const TenantHeader = "X-Tenant-Id"

// RequestIDHeader carries a client-supplied request id; one is generated
// when absent.
const RequestIDHeader = "X-Request-Id"

// Handler wires the orchestrator into net/http. Orchestrate is the
// narrow surface httpapi needs from orchestrator.Orchestrator, kept as a
// func field so this package doesn't import orchestrator and doesn't care
// which TenantContext resolver the caller wires in front of it.
type Handler struct {
	Orchestrate   func(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext) (domain.InferenceResponse, error)
	Stream        func(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext, onChunk func(domain.StreamChunk) error) error
	ResolveTenant func(id string) domain.TenantContext
	Logger        core.Logger
}

type wireRequest struct {
	RequestID         string                  `json:"requestId"`
	Model             string                  `json:"model"`
	Messages          []domain.Message        `json:"messages"`
	Parameters        domain.GenerationParams `json:"parameters"`
	Streaming         bool                    `json:"streaming"`
	Timeout           string                  `json:"timeout,omitempty"`
	PreferredProvider string                  `json:"preferredProvider,omitempty"`
	Priority          int                     `json:"priority,omitempty"`
	Metadata          map[string]string       `json:"metadata,omitempty"`
}

type wireError struct {
	Error      string  `json:"error"`
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	RequestID  string  `json:"requestId,omitempty"`
	RetryAfter float64 `json:"retryAfter,omitempty"`
}

// Mux returns an http.ServeMux wired with this gateway's two routes:
// /v1/inference and /healthz.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/inference", h.handleInference)
	mux.HandleFunc("/healthz", handleHealthz)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, &core.GatewayError{Kind: core.KindValidation, Message: "method not allowed"})
		return
	}

	var wire wireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, &core.GatewayError{Kind: core.KindValidation, Message: "malformed request body"})
		return
	}
	if wire.RequestID == "" {
		wire.RequestID = r.Header.Get(RequestIDHeader)
	}
	if wire.RequestID == "" {
		wire.RequestID = uuid.NewString()
	}

	tenantID := r.Header.Get(TenantHeader)
	tenant := domain.TenantContext{ID: domain.TenantID(tenantID)}
	if h.ResolveTenant != nil {
		tenant = h.ResolveTenant(tenantID)
	}

	timeout, err := parseISODuration(wire.Timeout)
	if err != nil {
		writeError(w, http.StatusBadRequest, &core.GatewayError{Kind: core.KindValidation, Message: "invalid timeout: " + err.Error()})
		return
	}

	req := domain.InferenceRequest{
		RequestID:         wire.RequestID,
		Model:             wire.Model,
		Messages:          wire.Messages,
		Params:            wire.Parameters,
		Streaming:         wire.Streaming,
		Timeout:           timeout,
		PreferredProvider: wire.PreferredProvider,
		Priority:          wire.Priority,
		Metadata:          wire.Metadata,
	}

	if req.Streaming {
		h.handleStream(w, r, req, tenant)
		return
	}

	resp, err := h.Orchestrate(r.Context(), req, tenant)
	if err != nil {
		h.logError(req.RequestID, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logError(requestID string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Error("inference request failed", map[string]interface{}{
		"requestId": requestID,
		"kind":      string(core.KindOf(err)),
		"error":     err.Error(),
	})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req domain.InferenceRequest, tenant domain.TenantContext) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, &core.GatewayError{Kind: core.KindInternal, Message: "streaming unsupported by this transport"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err := h.Stream(r.Context(), req, tenant, func(chunk domain.StreamChunk) error {
		data, merr := json.Marshal(chunk)
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logError(req.RequestID, err)
		errData, _ := json.Marshal(toWireError(err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", errData)
		flusher.Flush()
	}
}

// statusFor translates a Kind to the §6 exit-condition status code via a
// single lookup, never an ad hoc switch scattered through handlers.
var statusByKind = map[core.Kind]int{
	core.KindValidation:          http.StatusBadRequest,
	core.KindAuthorization:       http.StatusForbidden,
	core.KindRateLimited:         http.StatusTooManyRequests,
	core.KindQuotaExhausted:      http.StatusForbidden,
	core.KindNoCompatibleProvider: http.StatusServiceUnavailable,
	core.KindCircuitOpen:         http.StatusServiceUnavailable,
	core.KindTransientProvider:   http.StatusServiceUnavailable,
	core.KindPermanentProvider:   http.StatusBadGateway,
	core.KindPluginFailure:       http.StatusInternalServerError,
	core.KindTimeout:             http.StatusGatewayTimeout,
	core.KindCancelled:           http.StatusRequestTimeout,
	core.KindInternal:            http.StatusInternalServerError,
}

func statusFor(err error) int {
	if status, ok := statusByKind[core.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func toWireError(err error) wireError {
	kind := core.KindOf(err)
	we := wireError{Type: string(kind), Code: string(kind)}
	var ge *core.GatewayError
	if errors.As(err, &ge) {
		we.RequestID = ge.RequestID
		we.RetryAfter = ge.RetryAfter
		if ge.Message != "" && kind != core.KindInternal {
			we.Error = ge.Message
		}
	}
	if we.Error == "" {
		// generic message for internal errors; details only reach the
		// audit log, never the caller, for KindInternal.
		if kind == core.KindInternal {
			we.Error = "internal error"
		} else {
			we.Error = err.Error()
		}
	}
	return we
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, toWireError(err))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
