package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, 30*time.Second, c.HTTP.ReadTimeout)
	assert.Equal(t, "token_bucket", c.RateLimit.Algorithm)
	assert.Equal(t, 5, c.Breaker.FailureThreshold)
	assert.Equal(t, "text", c.LogFormat)
}

func TestNewConfigWithOptions(t *testing.T) {
	c := NewConfig(WithHTTPPort(9090), WithLogFormat("json"), WithRedisURL("redis://localhost:6379"))
	assert.Equal(t, 9090, c.HTTP.Port)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, "redis://localhost:6379", c.RedisURL)
}

func TestNewConfigEnvOverride(t *testing.T) {
	t.Setenv("GATEWAY_HTTP_PORT", "7000")
	t.Setenv("GATEWAY_BREAKER_FAILURE_THRESHOLD", "9")

	c := NewConfig()
	assert.Equal(t, 7000, c.HTTP.Port)
	assert.Equal(t, 9, c.Breaker.FailureThreshold)
}

func TestNewConfigOptionOverridesEnv(t *testing.T) {
	t.Setenv("GATEWAY_HTTP_PORT", "7000")
	c := NewConfig(WithHTTPPort(1234))
	assert.Equal(t, 1234, c.HTTP.Port)
}

func TestProductionLoggerTextFormat(t *testing.T) {
	l := NewProductionLogger("text", "debug")
	// Must not panic regardless of field shape.
	l.Info("starting up", map[string]interface{}{"port": 8080})
	l.WithComponent("gateway/orchestrator").Debug("phase started", map[string]interface{}{"phase": "ROUTE"})
}

func TestProductionLoggerJSONFormat(t *testing.T) {
	l := NewProductionLogger("json", "info")
	l.Error("provider failed", map[string]interface{}{"provider": "p1"})
}
