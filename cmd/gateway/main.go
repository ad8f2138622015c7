// Command gateway wires every component into one running process: the
// provider registry and its adapters, router, circuit breakers, rate
// limiters, tenant quota enforcement, the seven-phase plugin pipeline,
// audit fan-out, and finally the HTTP entrypoint. Construction is
// sequential and fails fast on a misconfigured required dependency,
// the same shape this codebase's own cmd/example uses.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itsneelabh/gateway/audit"
	"github.com/itsneelabh/gateway/breaker"
	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/httpapi"
	"github.com/itsneelabh/gateway/orchestrator"
	"github.com/itsneelabh/gateway/pipeline"
	"github.com/itsneelabh/gateway/provider"
	"github.com/itsneelabh/gateway/providers/bedrock"
	"github.com/itsneelabh/gateway/providers/openaicompat"
	"github.com/itsneelabh/gateway/ratelimit"
	"github.com/itsneelabh/gateway/router"
	"github.com/itsneelabh/gateway/stream"
	"github.com/itsneelabh/gateway/tenant"
)

func main() {
	cfg := core.NewConfig()
	logger := core.NewProductionLogger(cfg.LogFormat, cfg.LogLevel)

	registry := provider.NewRegistry()
	registerProviders(registry, logger)

	redisClient := redisClientFromEnv(cfg, logger)
	tracker := newTracker(registry, redisClient)
	routingConfig := router.NewConfig(cfg.RoutingConfigPath)
	rt := router.New(tracker, routingConfig)

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RollingWindow:    cfg.Breaker.RollingWindow,
		OpenDuration:     cfg.Breaker.OpenDuration,
		ProbePermits:     int32(cfg.Breaker.ProbePermits),
		SuccessThreshold: int32(cfg.Breaker.SuccessThreshold),
		Logger:           logger,
	})

	limiters := ratelimit.NewManager(ratelimit.Config{
		Algorithm:    ratelimitAlgorithm(cfg.RateLimit.Algorithm),
		Capacity:     cfg.RateLimit.Capacity,
		Window:       cfg.RateLimit.Window,
		RefillPeriod: cfg.RateLimit.RefillPeriod,
	})

	tenants := tenant.NewRegistry()
	quota := tenant.NewQuotaEnforcer(quotaStore(redisClient), tenant.Budget{
		MaxTokens: 100000,
		Window:    time.Hour,
	})

	repo := provider.NewStaticRepository()

	nodeID, err := os.Hostname()
	if err != nil || nodeID == "" {
		nodeID = "gateway"
	}
	auditObserver := audit.NewObserver(nodeID)
	auditObserver.AddSink(audit.NewLogSink(logger))
	if tel := otelTelemetryFromEnv(logger); tel != nil {
		auditObserver.AddSink(audit.NewTelemetrySink(tel))
	}

	pl := pipeline.New()
	pl.Register(pipeline.NewSchemaValidator(0))
	pl.Register(pipeline.NewContentSafetyFilter(10, nil))
	pl.Register(pipeline.NewTenantQuotaPlugin(0, quota))
	pl.Register(pipeline.NewPromptShaper(0, pipeline.SlidingWindow, 50))
	pl.Register(pipeline.NewRoutingPlugin(0))
	pl.Register(pipeline.NewInvokePlugin(0))
	pl.Register(pipeline.NewToolCallDetector(0))
	pl.Register(pipeline.NewAuditEmitter(0, auditObserver, "request.completed"))

	orch := orchestrator.New(registry, repo, rt, breakers, limiters, pl, logger)
	orch.AddObserver(auditObserver)
	orch.AddObserver(newLoadTrackingObserver(tracker))

	handler := &httpapi.Handler{
		Orchestrate: orch.Handle,
		Stream: func(ctx context.Context, req domain.InferenceRequest, tc domain.TenantContext, onChunk func(domain.StreamChunk) error) error {
			return orch.HandleStream(ctx, req, tc, streamConfigFrom(cfg), onChunk)
		},
		ResolveTenant: tenants.Resolve,
		Logger:        logger,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      otelhttp.NewHandler(handler.Mux(), "gateway"),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	logger.Info("gateway starting", map[string]interface{}{"port": cfg.HTTP.Port, "providers": registry.Len()})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// registerProviders builds and registers every provider adapter this
// process knows about. A provider with no credentials configured in its
// environment is skipped rather than failing startup — the gateway
// should still serve the providers that are configured.
func registerProviders(registry *provider.Registry, logger core.ComponentAwareLogger) {
	if region := os.Getenv("GATEWAY_BEDROCK_REGION"); region != "" {
		id := domain.ProviderID(envOr("GATEWAY_BEDROCK_PROVIDER_ID", "bedrock"))
		adapter := bedrock.New(id, logger.WithComponent("provider/bedrock"))
		cfg := map[string]interface{}{
			"region":          region,
			"accessKeyID":     os.Getenv("GATEWAY_BEDROCK_ACCESS_KEY_ID"),
			"secretAccessKey": os.Getenv("GATEWAY_BEDROCK_SECRET_ACCESS_KEY"),
		}
		if err := adapter.Initialize(context.Background(), cfg); err != nil {
			logger.Warn("bedrock provider not initialized, skipping", map[string]interface{}{"error": err.Error()})
		} else if err := registry.Register(domain.ProviderDescriptor{
			ID:                 id,
			Capabilities:       adapter.Capabilities(),
			SupportedModelGlob: "*",
			VendorTag:          "aws",
			Weight:             1,
			CostTier:           domain.CostTierCloud,
		}, adapter); err != nil {
			logger.Warn("bedrock provider not registered", map[string]interface{}{"error": err.Error()})
		}
	}

	if baseURL := os.Getenv("GATEWAY_OPENAI_BASE_URL"); baseURL != "" {
		id := domain.ProviderID(envOr("GATEWAY_OPENAI_PROVIDER_ID", "openai"))
		adapter := openaicompat.New(id, logger.WithComponent("provider/openaicompat"))
		cfg := map[string]interface{}{
			"baseURL": baseURL,
			"apiKey":  os.Getenv("GATEWAY_OPENAI_API_KEY"),
		}
		if err := adapter.Initialize(context.Background(), cfg); err != nil {
			logger.Warn("openaicompat provider not initialized, skipping", map[string]interface{}{"error": err.Error()})
		} else if err := registry.Register(domain.ProviderDescriptor{
			ID:                 id,
			Capabilities:       adapter.Capabilities(),
			SupportedModelGlob: "*",
			VendorTag:          "openai-compatible",
			Weight:             1,
			CostTier:           domain.CostTierCloud,
		}, adapter); err != nil {
			logger.Warn("openaicompat provider not registered", map[string]interface{}{"error": err.Error()})
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func ratelimitAlgorithm(name string) ratelimit.Algorithm {
	if name == "sliding_window" {
		return ratelimit.AlgorithmSlidingWindow
	}
	return ratelimit.AlgorithmTokenBucket
}

func streamConfigFrom(cfg *core.Config) stream.Config {
	return stream.Config{
		Backpressure: stream.Backpressure(cfg.Stream.BackpressureMode),
		BufferSize:   cfg.Stream.BufferSize,
		IdleTimeout:  cfg.Stream.IdleTimeout,
	}
}

// otelTelemetryFromEnv builds the optional OTel telemetry sink. Tracing is
// off by default — GATEWAY_OTEL_SERVICE_NAME must be set to turn it on —
// since a collector isn't something every deployment of this gateway runs.
func otelTelemetryFromEnv(logger core.ComponentAwareLogger) core.Telemetry {
	serviceName := os.Getenv("GATEWAY_OTEL_SERVICE_NAME")
	if serviceName == "" {
		return nil
	}
	tel, err := audit.NewOTelTelemetry(audit.OTelConfig{
		ServiceName: serviceName,
		Endpoint:    os.Getenv("GATEWAY_OTEL_ENDPOINT"),
	})
	if err != nil {
		logger.Warn("otel telemetry not initialized, skipping", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return tel
}

// redisClientFromEnv parses GATEWAY_REDIS_URL into a shared client used by
// both the quota store and the provider health cache, so a multi-replica
// deployment only needs one Redis connection pool configured, not two. A
// nil return means every Redis-backed component below falls back to its
// in-process default.
func redisClientFromEnv(cfg *core.Config, logger core.Logger) *goredis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, falling back to in-process state", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return goredis.NewClient(opts)
}

// quotaStore picks RedisStore when client is non-nil, so quota counters
// survive restarts and are shared across replicas; otherwise falls back to
// the single-process InMemoryStore.
func quotaStore(client *goredis.Client) tenant.Store {
	if client == nil {
		return tenant.NewInMemoryStore()
	}
	return tenant.NewRedisStore(client, "gateway:quota")
}

// newTracker picks a RedisHealthCache-backed Tracker when client is
// non-nil, so provider health probes are shared across replicas instead
// of each one re-probing independently; otherwise falls back to the
// single-process, TTL-capped in-memory cache.
func newTracker(registry *provider.Registry, client *goredis.Client) *provider.Tracker {
	if client == nil {
		return provider.NewTracker(registry, 5*time.Second)
	}
	return provider.NewTrackerWithHealthStore(registry, provider.NewRedisHealthCache(client, "gateway:providerhealth", 5*time.Second))
}

// loadTrackingObserver feeds each invocation's lifecycle into the
// provider.Tracker's Begin/End accounting, which router strategies read
// for LEAST_LOADED and LATENCY_OPTIMIZED selection. OnProviderInvoke is
// the only hook carrying a providerID, so it's recorded per request id
// and consumed whichever of OnSuccess/OnFailure fires next.
type loadTrackingObserver struct {
	tracker *provider.Tracker

	mu      sync.Mutex
	inFlight map[string]inFlightCall
}

type inFlightCall struct {
	providerID domain.ProviderID
	start      time.Time
}

func newLoadTrackingObserver(tracker *provider.Tracker) *loadTrackingObserver {
	return &loadTrackingObserver{tracker: tracker, inFlight: make(map[string]inFlightCall)}
}

func (o *loadTrackingObserver) OnStart(ec *orchestrator.ExecutionContext) {}

func (o *loadTrackingObserver) OnPhase(ec *orchestrator.ExecutionContext, result pipeline.PhaseResult) {}

func (o *loadTrackingObserver) OnProviderInvoke(ec *orchestrator.ExecutionContext, providerID domain.ProviderID) {
	o.tracker.Begin(providerID)
	o.mu.Lock()
	o.inFlight[ec.RequestID] = inFlightCall{providerID: providerID, start: time.Now()}
	o.mu.Unlock()
}

func (o *loadTrackingObserver) OnFailover(ec *orchestrator.ExecutionContext, from, to domain.ProviderID, cause error) {
}

func (o *loadTrackingObserver) OnSuccess(ec *orchestrator.ExecutionContext, resp domain.InferenceResponse) {
	o.end(ec.RequestID)
}

func (o *loadTrackingObserver) OnFailure(ec *orchestrator.ExecutionContext, err error) {
	o.end(ec.RequestID)
}

func (o *loadTrackingObserver) end(requestID string) {
	o.mu.Lock()
	call, ok := o.inFlight[requestID]
	delete(o.inFlight, requestID)
	o.mu.Unlock()
	if !ok {
		return
	}
	o.tracker.End(call.providerID, time.Since(call.start))
}

var _ orchestrator.Observer = (*loadTrackingObserver)(nil)
