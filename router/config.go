package router

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/gateway/domain"
	"gopkg.in/yaml.v3"
)

// yamlConfig is the on-disk shape of the routing configuration file,
// unmarshaled with yaml.v3 the same way this codebase's workflow router
// loads its YAML definitions, then converted into domain.RoutingConfig.
type yamlConfig struct {
	DefaultStrategy string                  `yaml:"defaultStrategy"`
	Pools           map[string][]string     `yaml:"pools"`
	ProviderWeights map[string]float64      `yaml:"providerWeights"`
	AutoFailover    bool                    `yaml:"autoFailover"`
	MaxRetries      int                     `yaml:"maxRetries"`
	RetryDelayMs    int                     `yaml:"retryDelayMs"`
	HealthIntervalS int                     `yaml:"healthIntervalSeconds"`
	PreferLocal     bool                    `yaml:"preferLocal"`
}

func (y yamlConfig) toDomain() domain.RoutingConfig {
	pools := make(map[string]domain.ProviderPool, len(y.Pools))
	for name, providers := range y.Pools {
		ids := make([]domain.ProviderID, len(providers))
		for i, p := range providers {
			ids[i] = domain.ProviderID(p)
		}
		pools[name] = domain.ProviderPool{ID: name, Providers: ids}
	}
	weights := make(map[domain.ProviderID]float64, len(y.ProviderWeights))
	for k, v := range y.ProviderWeights {
		weights[domain.ProviderID(k)] = v
	}
	return domain.RoutingConfig{
		DefaultStrategy: domain.RoutingStrategy(y.DefaultStrategy),
		Pools:           pools,
		ProviderWeights: weights,
		AutoFailover:    y.AutoFailover,
		MaxRetries:      y.MaxRetries,
		RetryDelay:      time.Duration(y.RetryDelayMs) * time.Millisecond,
		HealthInterval:  time.Duration(y.HealthIntervalS) * time.Second,
		PreferLocal:     y.PreferLocal,
	}
}

// Config holds the routing configuration, hot-reloadable from a YAML file.
// Readers (Router.Route, on every request) take an atomic snapshot; Reload
// swaps in a new one. This mirrors the copy-on-write snapshot pattern used
// throughout this codebase for anything read far more often than written.
type Config struct {
	path    string
	current atomic.Value // domain.RoutingConfig
}

// defaultRoutingConfig is used until the first successful load, and as the
// base when a file is absent — an unconfigured gateway should still route
// with SCORED and no pools rather than refuse to start.
func defaultRoutingConfig() domain.RoutingConfig {
	return domain.RoutingConfig{
		DefaultStrategy: domain.StrategyScored,
		Pools:           map[string]domain.ProviderPool{},
		ProviderWeights: map[domain.ProviderID]float64{},
		AutoFailover:    true,
		MaxRetries:      3,
		RetryDelay:      0,
		HealthInterval:  0,
		PreferLocal:     false,
	}
}

// NewConfig builds a Config. If path is empty, or the file does not exist,
// the default configuration is used and Reload becomes a no-op until the
// file appears.
func NewConfig(path string) *Config {
	c := &Config{path: path}
	c.current.Store(defaultRoutingConfig())
	if path != "" {
		_ = c.Reload() // best-effort initial load; defaults stand in on failure
	}
	return c
}

// Snapshot returns the currently active routing configuration.
func (c *Config) Snapshot() domain.RoutingConfig {
	return c.current.Load().(domain.RoutingConfig)
}

// Reload re-reads the YAML file at Config.path and swaps it in atomically.
// A missing or malformed file leaves the previous snapshot untouched and
// returns the error — callers decide whether that's fatal.
func (c *Config) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return err
	}
	c.current.Store(y.toDomain())
	return nil
}
