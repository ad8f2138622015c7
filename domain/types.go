// Package domain holds the data model shared across every gateway
// package: requests, responses, tenant context, routing decisions,
// provider descriptors, and the execution context that threads through
// the whole pipeline.
package domain

import "time"

// Role enumerates the Message.Role values accepted by the gateway.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation. Content is nullable for tool
// calls, which instead carry a ToolCallID.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// GenerationParams controls sampling on the provider side.
type GenerationParams struct {
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	TopP        float64  `json:"topP,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
}

// InferenceRequest is the normalized, read-only-after-creation request
// that enters the gateway. RequestID must be unique within the process.
type InferenceRequest struct {
	RequestID         string            `json:"requestId"`
	Model             string            `json:"model"`
	Messages          []Message         `json:"messages"`
	Params            GenerationParams  `json:"parameters"`
	Streaming         bool              `json:"streaming"`
	Timeout           time.Duration     `json:"-"`
	PreferredProvider string            `json:"preferredProvider,omitempty"`
	Priority          int               `json:"priority"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// InferenceResponse is the unary result of a completed request.
type InferenceResponse struct {
	RequestID  string            `json:"requestId"`
	Content    string            `json:"content"`
	Model      string            `json:"model"`
	TokensUsed int               `json:"tokensUsed"`
	DurationMs int64             `json:"durationMs"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StreamChunk is one piece of a streaming response. Index is monotone per
// request and exactly one chunk in a stream has Final set.
type StreamChunk struct {
	Index    int               `json:"index"`
	Delta    string            `json:"delta"`
	Final    bool              `json:"final"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TenantID is an opaque, non-empty tenant identifier.
type TenantID string

// TenantContext is the immutable per-tenant envelope shared by all
// concurrent requests for that tenant. Attributes are frozen for the
// duration of a request.
type TenantContext struct {
	ID         TenantID
	Attributes map[string]string
}

// ArtifactFramework names the runtime format a model artifact is built
// for (gguf, onnx, litert, or a cloud vendor's own format).
type ArtifactFramework string

// ModelManifest is what the model repository facade returns: which
// frameworks a model is available in, and whether a tenant may see it.
type ModelManifest struct {
	ModelID          string
	TenantVisible    bool
	Artifacts        map[ArtifactFramework]string // framework -> artifact descriptor/location
	CapabilityFlags  map[string]bool
}

// ProviderCapabilities describes what a provider adapter can do, fixed at
// registration time.
type ProviderCapabilities struct {
	Streaming      bool
	FunctionCall   bool
	Multimodal     bool
	Embeddings     bool
	MaxContext     int
	MaxOutput      int
}

// ProviderDescriptor is the immutable, post-registration metadata for one
// provider adapter.
type ProviderDescriptor struct {
	ID                ProviderID
	Capabilities      ProviderCapabilities
	SupportedModelGlob string
	VendorTag         string
	Weight            float64
	CostTier          CostTier
}

// ProviderID identifies a registered provider adapter.
type ProviderID string

// CostTier feeds the COST_OPTIMIZED routing strategy.
type CostTier string

const (
	CostTierLocal   CostTier = "local"
	CostTierCloud   CostTier = "cloud"
	CostTierUnknown CostTier = "unknown"
)

// HealthState is a provider's current health classification.
type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"
	HealthUnhealthy HealthState = "UNHEALTHY"
)

// ProviderHealth is a snapshot produced by a health probe.
type ProviderHealth struct {
	Status    HealthState
	Timestamp time.Time
	Details   string
}

// RoutingStrategy names one of the Provider Router's selection strategies.
type RoutingStrategy string

const (
	StrategyRoundRobin       RoutingStrategy = "ROUND_ROBIN"
	StrategyRandom           RoutingStrategy = "RANDOM"
	StrategyWeightedRandom   RoutingStrategy = "WEIGHTED_RANDOM"
	StrategyLeastLoaded      RoutingStrategy = "LEAST_LOADED"
	StrategyCostOptimized    RoutingStrategy = "COST_OPTIMIZED"
	StrategyLatencyOptimized RoutingStrategy = "LATENCY_OPTIMIZED"
	StrategyFailover         RoutingStrategy = "FAILOVER"
	StrategyScored           RoutingStrategy = "SCORED"
	StrategyUserSelected     RoutingStrategy = "USER_SELECTED"
)

// RoutingDecision is produced by the ROUTE phase and recorded on the
// execution context.
type RoutingDecision struct {
	Selected  ProviderID
	PoolID    string
	Strategy  RoutingStrategy
	Score     float64
	Fallbacks []ProviderID
	Timestamp time.Time
}

// RoutingContext carries the per-request hints the router consults beyond
// the bare model id.
type RoutingContext struct {
	TenantID          TenantID
	PreferredProvider ProviderID
	ExcludedProviders map[ProviderID]bool
	DeviceHint        string
	CostSensitive     bool
	PreferLocal       bool
	Priority          int
	PoolID            string
	Strategy          RoutingStrategy // empty = use config default
}

// ProviderPool groups provider ids for pool-scoped routing.
type ProviderPool struct {
	ID        string
	Providers []ProviderID
}

// RoutingConfig is hot-reloadable routing configuration, swapped
// atomically by its loader on each reload.
type RoutingConfig struct {
	DefaultStrategy RoutingStrategy
	Pools           map[string]ProviderPool
	ProviderWeights map[ProviderID]float64
	AutoFailover    bool
	MaxRetries      int
	RetryDelay      time.Duration
	HealthInterval  time.Duration
	PreferLocal     bool
}

// AuditActorType classifies who/what triggered an audit event.
type AuditActorType string

const (
	ActorSystem AuditActorType = "system"
	ActorHuman  AuditActorType = "human"
	ActorAgent  AuditActorType = "agent"
)

// AuditLevel is the severity of an audit event.
type AuditLevel string

const (
	AuditInfo     AuditLevel = "INFO"
	AuditWarn     AuditLevel = "WARN"
	AuditError    AuditLevel = "ERROR"
	AuditCritical AuditLevel = "CRITICAL"
)

// AuditActor identifies who performed the audited action.
type AuditActor struct {
	Type AuditActorType
	ID   string
	Role string
}

// AuditPayload is an immutable, tamper-evident record of a lifecycle
// event. Hash is computed over the canonical joined fields once, at
// build time, and never recomputed.
type AuditPayload struct {
	Timestamp       time.Time
	RunID           string
	NodeID          string
	Actor           AuditActor
	Event           string
	Level           AuditLevel
	Tags            []string
	Metadata        map[string]string
	ContextSnapshot map[string]string
	Hash            string
}
