package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleInferenceSuccess(t *testing.T) {
	h := &Handler{
		Orchestrate: func(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext) (domain.InferenceResponse, error) {
			assert.Equal(t, domain.TenantID("acme"), tenant.ID)
			return domain.InferenceResponse{RequestID: req.RequestID, Content: "hi", Model: req.Model}, nil
		},
	}

	body := `{"requestId":"r1","model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest("POST", "/v1/inference", bytes.NewBufferString(body))
	req.Header.Set(TenantHeader, "acme")
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp domain.InferenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi", resp.Content)
}

func TestHandleInferenceMapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind core.Kind
		want int
	}{
		{core.KindValidation, 400},
		{core.KindRateLimited, 429},
		{core.KindNoCompatibleProvider, 503},
		{core.KindInternal, 500},
	}
	for _, tc := range cases {
		h := &Handler{
			Orchestrate: func(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext) (domain.InferenceResponse, error) {
				return domain.InferenceResponse{}, core.NewGatewayError("op", tc.kind, "boom")
			},
		}
		req := httptest.NewRequest("POST", "/v1/inference", bytes.NewBufferString(`{"model":"m"}`))
		rec := httptest.NewRecorder()
		h.Mux().ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.kind)
	}
}

func TestHandleInferenceRejectsMalformedBody(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest("POST", "/v1/inference", bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestHandleInferenceRejectsInvalidTimeout(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest("POST", "/v1/inference", bytes.NewBufferString(`{"model":"m","timeout":"not-iso"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestHandleInferenceRejectsGet(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest("GET", "/v1/inference", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, 405, rec.Code)
}

func TestHandleStreamEmitsSSEChunks(t *testing.T) {
	h := &Handler{
		Stream: func(ctx context.Context, req domain.InferenceRequest, tenant domain.TenantContext, onChunk func(domain.StreamChunk) error) error {
			if err := onChunk(domain.StreamChunk{Index: 0, Delta: "he"}); err != nil {
				return err
			}
			return onChunk(domain.StreamChunk{Index: 1, Delta: "llo", Final: true})
		},
	}

	body := `{"requestId":"r1","model":"gpt-4","streaming":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest("POST", "/v1/inference", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delta":"he"`)
	assert.Contains(t, rec.Body.String(), `"final":true`)
}

func TestHealthz(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}
