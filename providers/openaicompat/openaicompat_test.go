package openaicompat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitialized(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	a := New("oai-1", nil)
	require.NoError(t, a.Initialize(context.Background(), map[string]interface{}{
		"baseURL": srv.URL,
		"apiKey":  "test-key",
	}))
	return a
}

func TestInferParsesChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4",
			"choices": [{"message": {"content": "hello there"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	a := newInitialized(t, srv)
	resp, err := a.Infer(context.Background(), provider.Request{
		Inference: domain.InferenceRequest{
			RequestID: "r1",
			Model:     "gpt-4",
			Messages:  []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 7, resp.TokensUsed)
	assert.Equal(t, "gpt-4", resp.Model)
}

func TestInferClassifiesRateLimitAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	a := newInitialized(t, srv)
	_, err := a.Infer(context.Background(), provider.Request{Inference: domain.InferenceRequest{Model: "gpt-4"}})
	require.Error(t, err)
	assert.Equal(t, core.KindTransientProvider, core.KindOf(err))
}

func TestInferRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4","choices":[]}`))
	}))
	defer srv.Close()

	a := newInitialized(t, srv)
	_, err := a.Infer(context.Background(), provider.Request{Inference: domain.InferenceRequest{Model: "gpt-4"}})
	assert.Error(t, err)
}

func TestInitializeRequiresBaseURL(t *testing.T) {
	a := New("oai-1", nil)
	err := a.Initialize(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestHealthReportsUnhealthyBeforeInitialize(t *testing.T) {
	a := New("oai-1", nil)
	h := a.Health(context.Background())
	assert.Equal(t, domain.HealthUnhealthy, h.Status)
}

func TestSupportsAnyNonEmptyModelID(t *testing.T) {
	a := New("oai-1", nil)
	assert.True(t, a.Supports("gpt-4", domain.InferenceRequest{}))
	assert.False(t, a.Supports("", domain.InferenceRequest{}))
}

func TestClassifyStatus(t *testing.T) {
	assert.NotEqual(t, classifyStatus(500), classifyStatus(400))
}
