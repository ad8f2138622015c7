package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the gateway's process-wide configuration, loaded in three
// tiers: compiled defaults (the struct literal below), then environment
// variables (env tag), then functional Options applied by the caller.
// RoutingConfig is deliberately not embedded here — it is hot-reloadable
// from YAML and lives in its own loader (see package router).
type Config struct {
	// HTTP server
	HTTP HTTPConfig

	// Rate limiter defaults, applied when a tenant/provider pair has no
	// override.
	RateLimit RateLimitDefaults

	// Circuit breaker defaults, applied when a provider has no override.
	Breaker BreakerDefaults

	// Streaming transport defaults.
	Stream StreamDefaults

	// LogFormat selects "json" or "text" log rendering.
	LogFormat string `env:"GATEWAY_LOG_FORMAT" default:"text"`
	LogLevel  string `env:"GATEWAY_LOG_LEVEL" default:"info"`

	// RedisURL, when non-empty, backs the distributed quota store and the
	// provider health cache. Empty means in-process only.
	RedisURL string `env:"GATEWAY_REDIS_URL" default:""`

	// RoutingConfigPath points at the hot-reloadable YAML routing config.
	RoutingConfigPath string `env:"GATEWAY_ROUTING_CONFIG" default:""`
}

type HTTPConfig struct {
	Port            int           `env:"GATEWAY_HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"GATEWAY_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `env:"GATEWAY_HTTP_WRITE_TIMEOUT" default:"0s"` // 0 = unbounded, streaming responses manage their own deadline
	ShutdownTimeout time.Duration `env:"GATEWAY_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type RateLimitDefaults struct {
	Algorithm    string        `env:"GATEWAY_RATELIMIT_ALGORITHM" default:"token_bucket"` // "token_bucket" | "sliding_window"
	Capacity     int           `env:"GATEWAY_RATELIMIT_CAPACITY" default:"60"`
	RefillPeriod time.Duration `env:"GATEWAY_RATELIMIT_REFILL_PERIOD" default:"1m"`
	Window       time.Duration `env:"GATEWAY_RATELIMIT_WINDOW" default:"1m"`
}

type BreakerDefaults struct {
	FailureThreshold int           `env:"GATEWAY_BREAKER_FAILURE_THRESHOLD" default:"5"`
	RollingWindow    time.Duration `env:"GATEWAY_BREAKER_ROLLING_WINDOW" default:"10s"`
	OpenDuration     time.Duration `env:"GATEWAY_BREAKER_OPEN_DURATION" default:"30s"`
	ProbePermits     int           `env:"GATEWAY_BREAKER_PROBE_PERMITS" default:"1"`
	SuccessThreshold int           `env:"GATEWAY_BREAKER_SUCCESS_THRESHOLD" default:"1"`
}

type StreamDefaults struct {
	BackpressureMode string        `env:"GATEWAY_STREAM_BACKPRESSURE" default:"buffer"` // buffer|drop_oldest|latest|error ; no hard default mandated, see DESIGN.md
	BufferSize       int           `env:"GATEWAY_STREAM_BUFFER_SIZE" default:"64"`
	IdleTimeout      time.Duration `env:"GATEWAY_STREAM_IDLE_TIMEOUT" default:"30s"`
}

// Option mutates a Config after defaults and environment have been
// applied, the same three-tier load order the rest of this codebase uses.
type Option func(*Config)

func WithHTTPPort(port int) Option {
	return func(c *Config) { c.HTTP.Port = port }
}

func WithRedisURL(url string) Option {
	return func(c *Config) { c.RedisURL = url }
}

func WithRoutingConfigPath(path string) Option {
	return func(c *Config) { c.RoutingConfigPath = path }
}

func WithLogFormat(format string) Option {
	return func(c *Config) { c.LogFormat = format }
}

// NewConfig builds a Config from compiled defaults, then environment
// overrides, then the supplied Options, in that order.
func NewConfig(opts ...Option) *Config {
	c := defaultConfig()
	applyEnv(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitDefaults{
			Algorithm:    "token_bucket",
			Capacity:     60,
			RefillPeriod: time.Minute,
			Window:       time.Minute,
		},
		Breaker: BreakerDefaults{
			FailureThreshold: 5,
			RollingWindow:    10 * time.Second,
			OpenDuration:     30 * time.Second,
			ProbePermits:     1,
			SuccessThreshold: 1,
		},
		Stream: StreamDefaults{
			BackpressureMode: "buffer",
			BufferSize:       64,
			IdleTimeout:      30 * time.Second,
		},
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// applyEnv overrides fields from environment variables named by the env
// struct tag, mirroring the rest of the example pack's env+default tag
// convention without pulling in a struct-tag reflection library.
func applyEnv(c *Config) {
	if v := os.Getenv("GATEWAY_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
	if v := os.Getenv("GATEWAY_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("GATEWAY_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("GATEWAY_HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("GATEWAY_RATELIMIT_ALGORITHM"); v != "" {
		c.RateLimit.Algorithm = v
	}
	if v := os.Getenv("GATEWAY_RATELIMIT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Capacity = n
		}
	}
	if v := os.Getenv("GATEWAY_RATELIMIT_REFILL_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.RefillPeriod = d
		}
	}
	if v := os.Getenv("GATEWAY_RATELIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.Window = d
		}
	}
	if v := os.Getenv("GATEWAY_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("GATEWAY_BREAKER_ROLLING_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Breaker.RollingWindow = d
		}
	}
	if v := os.Getenv("GATEWAY_BREAKER_OPEN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Breaker.OpenDuration = d
		}
	}
	if v := os.Getenv("GATEWAY_BREAKER_PROBE_PERMITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breaker.ProbePermits = n
		}
	}
	if v := os.Getenv("GATEWAY_BREAKER_SUCCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breaker.SuccessThreshold = n
		}
	}
	if v := os.Getenv("GATEWAY_STREAM_BACKPRESSURE"); v != "" {
		c.Stream.BackpressureMode = v
	}
	if v := os.Getenv("GATEWAY_STREAM_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.BufferSize = n
		}
	}
	if v := os.Getenv("GATEWAY_STREAM_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Stream.IdleTimeout = d
		}
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GATEWAY_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("GATEWAY_ROUTING_CONFIG"); v != "" {
		c.RoutingConfigPath = v
	}
}

// ProductionLogger is the dual-mode Logger: a bracketed human-readable
// line in "text" mode, one JSON object per event in "json" mode. It
// injects the active span's trace/span id into every line when one is
// present in the context, following this codebase's baggage-injection
// convention for correlating logs with traces.
type ProductionLogger struct {
	component string
	format    string // "json" | "text"
	level     string
	out       *log.Logger
}

// NewProductionLogger builds a ProductionLogger in the given format
// ("json" or "text") writing to stderr.
func NewProductionLogger(format, level string) *ProductionLogger {
	return &ProductionLogger{
		format: format,
		level:  level,
		out:    log.New(os.Stderr, "", 0),
	}
}

func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{component: component, format: l.format, level: l.level, out: l.out}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.logEvent(context.Background(), "INFO", msg, fields)
}
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.logEvent(context.Background(), "ERROR", msg, fields)
}
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.logEvent(context.Background(), "WARN", msg, fields)
}
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if strings.EqualFold(l.level, "debug") {
		l.logEvent(context.Background(), "DEBUG", msg, fields)
	}
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "INFO", msg, fields)
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "ERROR", msg, fields)
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "WARN", msg, fields)
}
func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if strings.EqualFold(l.level, "debug") {
		l.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (l *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	traceID, spanID := traceContextFrom(ctx)

	if strings.EqualFold(l.format, "json") {
		entry := make(map[string]interface{}, len(fields)+5)
		for k, v := range fields {
			entry[k] = v
		}
		entry["level"] = level
		entry["msg"] = msg
		entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		if l.component != "" {
			entry["component"] = l.component
		}
		if traceID != "" {
			entry["trace_id"] = traceID
			entry["span_id"] = spanID
		}
		data, err := json.Marshal(entry)
		if err != nil {
			l.out.Printf("[%s] %s (marshal error: %v)", level, msg, err)
			return
		}
		l.out.Println(string(data))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", level)
	if l.component != "" {
		fmt.Fprintf(&b, "[%s]", l.component)
	}
	fmt.Fprintf(&b, " %s", msg)
	if traceID != "" {
		fmt.Fprintf(&b, " trace_id=%s span_id=%s", traceID, spanID)
	}
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	l.out.Println(b.String())
}

// traceContextExtractor is overridden via SetTraceContextExtractor so logs
// can carry the active span's ids without core importing the
// OpenTelemetry SDK directly.
var traceContextExtractor = func(ctx context.Context) (traceID, spanID string) { return "", "" }

func traceContextFrom(ctx context.Context) (string, string) {
	return traceContextExtractor(ctx)
}

// SetTraceContextExtractor lets a telemetry implementation register how to
// pull trace/span ids out of a context, avoiding a circular import between
// core and whatever tracing SDK is in use.
func SetTraceContextExtractor(fn func(ctx context.Context) (traceID, spanID string)) {
	traceContextExtractor = fn
}
