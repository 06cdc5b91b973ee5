package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
	"github.com/Rajchodisetti/marketfeed/internal/pipeline"
	"github.com/Rajchodisetti/marketfeed/internal/store"
)

type Cache struct {
	TTLSeconds         int `yaml:"ttl_seconds"`
	ExtendedTTLSeconds int `yaml:"extended_ttl_seconds"` // used only while rate limited
	PurgeMaxAgeHours   int `yaml:"purge_max_age_hours"`
	FundamentalsDays   int `yaml:"fundamentals_days"`
}

type RateLimit struct {
	CooldownMs int    `yaml:"cooldown_ms"`
	Scope      string `yaml:"scope"` // service | provider
}

type Retry struct {
	MaxRetries *int `yaml:"max_retries"` // nil means default; 0 disables retries
	BackoffMs  int  `yaml:"backoff_ms"`
}

type Fallback struct {
	UseMock *bool `yaml:"use_mock"`
}

type Refresh struct {
	Enabled                bool     `yaml:"enabled"`
	IntervalSeconds        int      `yaml:"interval_seconds"`
	CleanupIntervalSeconds int      `yaml:"cleanup_interval_seconds"`
	Watchlist              []string `yaml:"watchlist"`
}

type Server struct {
	Addr                string   `yaml:"addr"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_seconds"`
	Mode                string   `yaml:"mode"` // gin mode: release | debug | test
	CORSOrigins         []string `yaml:"cors_origins"`
}

type Root struct {
	Cache     Cache                    `yaml:"cache"`
	RateLimit RateLimit                `yaml:"rate_limit"`
	Retry     Retry                    `yaml:"retry"`
	Fallback  Fallback                 `yaml:"fallback"`
	Store     store.Config             `yaml:"store"`
	Providers adapters.ProvidersConfig `yaml:"providers"`
	Refresh   Refresh                  `yaml:"refresh"`
	Server    Server                   `yaml:"server"`
	Logging   observ.LogConfig         `yaml:"logging"`
}

// Load reads path, applies defaults and env overrides, then validates
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Default returns the configuration used when no file is given
func Default() Root {
	var c Root
	c.applyDefaults()
	c.applyEnv()
	return c
}

func (c *Root) applyDefaults() {
	// Set cache defaults
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.Cache.ExtendedTTLSeconds == 0 {
		c.Cache.ExtendedTTLSeconds = 3600
	}
	if c.Cache.PurgeMaxAgeHours == 0 {
		c.Cache.PurgeMaxAgeHours = 24
	}
	if c.Cache.FundamentalsDays == 0 {
		c.Cache.FundamentalsDays = 7
	}

	// Set rate limit and retry defaults
	if c.RateLimit.CooldownMs == 0 {
		c.RateLimit.CooldownMs = 60000
	}
	if c.RateLimit.Scope == "" {
		c.RateLimit.Scope = string(pipeline.ScopeService)
	}
	if c.Retry.MaxRetries == nil {
		n := pipeline.DefaultMaxRetries
		c.Retry.MaxRetries = &n
	}
	if c.Retry.BackoffMs == 0 {
		c.Retry.BackoffMs = 2000
	}
	if c.Fallback.UseMock == nil {
		useMock := true
		c.Fallback.UseMock = &useMock
	}

	// Set store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = store.DefaultSQLitePath
	}
	if c.Store.Redis.Namespace == "" {
		c.Store.Redis.Namespace = "marketfeed:"
	}

	// Set provider defaults
	defaults := adapters.DefaultProvidersConfig()
	if len(c.Providers.Stocks) == 0 {
		c.Providers.Stocks = defaults.Stocks
	}
	if len(c.Providers.Crypto) == 0 {
		c.Providers.Crypto = defaults.Crypto
	}
	if c.Providers.Settings == nil {
		c.Providers.Settings = map[string]adapters.ProviderSettings{}
	}

	if c.Refresh.IntervalSeconds == 0 {
		c.Refresh.IntervalSeconds = 300
	}
	if c.Refresh.CleanupIntervalSeconds == 0 {
		c.Refresh.CleanupIntervalSeconds = 600
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = 10
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
}

// applyEnv lets deployment override the settings that differ per host
func (c *Root) applyEnv() {
	if v := os.Getenv("MARKETFEED_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("MARKETFEED_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("MARKETFEED_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("MARKETFEED_REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("MARKETFEED_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MARKETFEED_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
}

// Validate rejects settings the pipeline cannot run with
func (c Root) Validate() error {
	if c.Cache.TTLSeconds < 0 || c.Cache.ExtendedTTLSeconds < 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.Cache.ExtendedTTLSeconds < c.Cache.TTLSeconds {
		return fmt.Errorf("cache.extended_ttl_seconds (%d) must be >= cache.ttl_seconds (%d)",
			c.Cache.ExtendedTTLSeconds, c.Cache.TTLSeconds)
	}
	switch pipeline.Scope(c.RateLimit.Scope) {
	case pipeline.ScopeService, pipeline.ScopeProvider:
	default:
		return fmt.Errorf("rate_limit.scope must be service or provider, got %q", c.RateLimit.Scope)
	}
	if c.RateLimit.CooldownMs < 0 {
		return fmt.Errorf("rate_limit.cooldown_ms must be positive")
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("store.driver must be memory, sqlite or redis, got %q", c.Store.Driver)
	}
	if err := c.Providers.Validate(); err != nil {
		return err
	}
	for name, s := range c.Providers.Settings {
		if !adapters.KnownProvider(name) {
			return fmt.Errorf("providers.settings: unknown provider %q", name)
		}
		if s.TimeoutMs < 0 || s.RequestDelayMs < 0 {
			return fmt.Errorf("providers.settings.%s: negative timeout or delay", name)
		}
	}
	if c.Refresh.Enabled && len(c.Refresh.Watchlist) == 0 {
		return fmt.Errorf("refresh.enabled requires a watchlist")
	}
	return nil
}

// PipelineOptions converts the config into pipeline options
func (c Root) PipelineOptions() pipeline.Options {
	opts := pipeline.Options{
		CacheTTL:        time.Duration(c.Cache.TTLSeconds) * time.Second,
		ExtendedTTL:     time.Duration(c.Cache.ExtendedTTLSeconds) * time.Second,
		Cooldown:        time.Duration(c.RateLimit.CooldownMs) * time.Millisecond,
		Scope:           pipeline.Scope(c.RateLimit.Scope),
		MaxRetries:      pipeline.DefaultMaxRetries,
		Backoff:         time.Duration(c.Retry.BackoffMs) * time.Millisecond,
		UseMock:         true,
		FundamentalsTTL: time.Duration(c.Cache.FundamentalsDays) * 24 * time.Hour,
		ResolveTimeout:  pipeline.DefaultResolveTimeout,
	}
	if c.Retry.MaxRetries != nil {
		opts.MaxRetries = *c.Retry.MaxRetries
	}
	if c.Fallback.UseMock != nil {
		opts.UseMock = *c.Fallback.UseMock
	}
	return opts
}

// RefresherConfig converts the refresh section
func (c Root) RefresherConfig() pipeline.RefresherConfig {
	return pipeline.RefresherConfig{
		Watchlist:       c.Refresh.Watchlist,
		RefreshInterval: time.Duration(c.Refresh.IntervalSeconds) * time.Second,
		CleanupInterval: time.Duration(c.Refresh.CleanupIntervalSeconds) * time.Second,
		PurgeMaxAge:     time.Duration(c.Cache.PurgeMaxAgeHours) * time.Hour,
	}
}
