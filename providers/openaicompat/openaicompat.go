// Package openaicompat adapts any backend that speaks the OpenAI
// chat-completions wire format — OpenAI itself, Azure OpenAI, and the
// many self-hosted runtimes (vLLM, llama.cpp server, Ollama's OpenAI
// shim) that copy it — to the gateway's provider.Adapter contract. One
// adapter instance per base URL/key pair; register one per backend.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/provider"
)

// Adapter implements provider.Adapter against an OpenAI-compatible
// /chat/completions endpoint. It does not implement
// provider.StreamingAdapter: SSE-framed chat-completion deltas are a
// distinct wire format from this package's plain-JSON request/response
// shape and are left for a dedicated streaming adapter to add.
type Adapter struct {
	id     domain.ProviderID
	logger core.Logger
	caps   domain.ProviderCapabilities

	mu      sync.RWMutex
	baseURL string
	apiKey  string
	client  *http.Client
	ready   bool
}

// New returns an Adapter registered under id. Initialize must be called
// before Infer is usable.
func New(id domain.ProviderID, logger core.Logger) *Adapter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Adapter{
		id:     id,
		logger: logger,
		caps: domain.ProviderCapabilities{
			Streaming:    false,
			FunctionCall: true,
			MaxContext:   128000,
			MaxOutput:    4096,
		},
	}
}

func (a *Adapter) ID() domain.ProviderID                   { return a.id }
func (a *Adapter) Name() string                             { return "openaicompat:" + string(a.id) }
func (a *Adapter) Capabilities() domain.ProviderCapabilities { return a.caps }

// Initialize configures the backend. Recognized keys: "baseURL" (string,
// required, e.g. "https://api.openai.com/v1" or a local vLLM endpoint),
// "apiKey" (string, sent as a Bearer token; backends that don't check it
// can leave it empty), "timeoutSeconds" (int, defaults to 30).
func (a *Adapter) Initialize(ctx context.Context, cfg map[string]interface{}) error {
	baseURL, _ := cfg["baseURL"].(string)
	if baseURL == "" {
		return core.NewGatewayError("openaicompat.Initialize", core.KindInternal, "baseURL is required")
	}
	apiKey, _ := cfg["apiKey"].(string)

	timeout := 30 * time.Second
	if secs, ok := cfg["timeoutSeconds"].(int); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	a.mu.Lock()
	a.baseURL = strings.TrimSuffix(baseURL, "/")
	a.apiKey = apiKey
	a.client = &http.Client{Timeout: timeout}
	a.ready = true
	a.mu.Unlock()
	return nil
}

// Shutdown is a no-op: http.Client has no explicit close.
func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

// Supports reports true for any non-empty model id; the backend itself
// rejects unknown models at request time.
func (a *Adapter) Supports(modelID string, req domain.InferenceRequest) bool {
	return modelID != ""
}

// Health reports healthy once Initialize has run. Probing the backend's
// own health would cost a round trip on every check interval for no
// benefit over just letting the circuit breaker react to real request
// failures.
func (a *Adapter) Health(ctx context.Context) domain.ProviderHealth {
	a.mu.RLock()
	ready := a.ready
	a.mu.RUnlock()
	if !ready {
		return domain.ProviderHealth{Status: domain.HealthUnhealthy, Timestamp: time.Now(), Details: "not initialized"}
	}
	return domain.ProviderHealth{Status: domain.HealthHealthy, Timestamp: time.Now()}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Infer implements provider.Adapter by POSTing a chat-completions request
// and parsing the JSON response.
func (a *Adapter) Infer(ctx context.Context, req provider.Request) (domain.InferenceResponse, error) {
	a.mu.RLock()
	baseURL, apiKey, client, ready := a.baseURL, a.apiKey, a.client, a.ready
	a.mu.RUnlock()
	if !ready {
		return domain.InferenceResponse{}, core.NewGatewayError("openaicompat.Infer", core.KindInternal, "adapter not initialized")
	}

	body := chatRequest{
		Model:       req.Inference.Model,
		Messages:    toChatMessages(req.Inference.Messages),
		Temperature: req.Inference.Params.Temperature,
		MaxTokens:   req.Inference.Params.MaxTokens,
		TopP:        req.Inference.Params.TopP,
		Stop:        req.Inference.Params.Stop,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("openaicompat.Infer", core.KindInternal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("openaicompat.Infer", core.KindInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("openaicompat.Infer", core.KindTransientProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("openaicompat.Infer", core.KindTransientProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.InferenceResponse{}, core.WrapGatewayError("openaicompat.Infer", classifyStatus(resp.StatusCode),
			fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("openaicompat.Infer", core.KindPermanentProvider, err)
	}
	if len(parsed.Choices) == 0 {
		return domain.InferenceResponse{}, core.NewGatewayError("openaicompat.Infer", core.KindPermanentProvider, "backend returned no choices")
	}

	model := parsed.Model
	if model == "" {
		model = req.Inference.Model
	}

	return domain.InferenceResponse{
		RequestID:  req.Inference.RequestID,
		Content:    parsed.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: parsed.Usage.TotalTokens,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func toChatMessages(msgs []domain.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// classifyStatus maps an HTTP status from the backend to a gateway Kind.
// 429 and 5xx are worth a failover retry; everything else (bad request,
// auth, not-found model) is permanent for this request.
func classifyStatus(status int) core.Kind {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return core.KindTransientProvider
	default:
		return core.KindPermanentProvider
	}
}
