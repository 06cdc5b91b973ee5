// Package pipeline resolves market data across unreliable providers with
// throttling, rate-limit breakers, layered caching and synthetic fallbacks.
package pipeline

import (
	"context"
	"time"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
	"github.com/Rajchodisetti/marketfeed/internal/store"
)

// Defaults
const (
	DefaultCooldown        = 60 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
	DefaultExtendedTTL     = time.Hour
	DefaultMaxRetries      = 2
	DefaultBackoff         = 2 * time.Second
	DefaultFundamentalsTTL = 7 * 24 * time.Hour
	DefaultResolveTimeout  = time.Minute
)

// Options tunes the pipeline
type Options struct {
	CacheTTL        time.Duration
	ExtendedTTL     time.Duration
	Cooldown        time.Duration
	Scope           Scope
	MaxRetries      int
	Backoff         time.Duration
	UseMock         bool
	FundamentalsTTL time.Duration
	ResolveTimeout  time.Duration // bounds a shared resolution, which outlives the caller that started it
}

func DefaultOptions() Options {
	return Options{
		CacheTTL:        DefaultCacheTTL,
		ExtendedTTL:     DefaultExtendedTTL,
		Cooldown:        DefaultCooldown,
		Scope:           ScopeService,
		MaxRetries:      DefaultMaxRetries,
		Backoff:         DefaultBackoff,
		UseMock:         true,
		FundamentalsTTL: DefaultFundamentalsTTL,
		ResolveTimeout:  DefaultResolveTimeout,
	}
}

// Deps are the collaborators a Service is composed from
type Deps struct {
	Store        store.Store
	Stocks       []adapters.Provider
	Crypto       []adapters.Provider
	Throttles    *Throttles
	Mock         adapters.Generator
	Fallback     *adapters.FallbackGenerator
	Fundamentals *adapters.FundamentalsGenerator
}

// Service owns all pipeline state for one process
type Service struct {
	opts         Options
	store        store.Store
	cache        *Cache
	tracker      *Tracker
	throttles    *Throttles
	resolver     *Resolver
	mock         adapters.Generator
	fallback     *adapters.FallbackGenerator
	fundamentals *adapters.FundamentalsGenerator
}

func NewService(opts Options, deps Deps) *Service {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Scope == "" {
		opts.Scope = ScopeService
	}
	if opts.FundamentalsTTL <= 0 {
		opts.FundamentalsTTL = DefaultFundamentalsTTL
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Throttles == nil {
		deps.Throttles = NewThrottles(nil)
	}
	if deps.Fallback == nil {
		deps.Fallback = adapters.NewFallbackGenerator(0)
	}
	if deps.Fundamentals == nil {
		deps.Fundamentals = adapters.NewFundamentalsGenerator(0)
	}

	cache := NewCache(deps.Store, opts.CacheTTL, opts.ExtendedTTL)
	tracker := NewTracker(opts.Cooldown)

	s := &Service{
		opts:         opts,
		store:        deps.Store,
		cache:        cache,
		tracker:      tracker,
		throttles:    deps.Throttles,
		mock:         deps.Mock,
		fallback:     deps.Fallback,
		fundamentals: deps.Fundamentals,
	}
	s.resolver = newResolver(opts, cache, tracker, deps.Throttles, deps.Stocks, deps.Crypto, deps.Mock, deps.Fallback)
	return s
}

// GetMarketData always returns a well-formed record; provenance tells how far it degraded
func (s *Service) GetMarketData(ctx context.Context, symbol string) *adapters.MarketRecord {
	return s.resolver.Resolve(ctx, symbol)
}

// ServiceStats is a diagnostic snapshot
type ServiceStats struct {
	RateLimitActive bool                      `json:"rateLimitActive"`
	RateLimitUntil  *time.Time                `json:"rateLimitUntil,omitempty"`
	Scope           Scope                     `json:"scope"`
	RetryCount      int64                     `json:"retryCount"`
	CacheSize       int                       `json:"cacheSize"`
	BatchCacheSize  int                       `json:"batchCacheSize"`
	BatchCacheAgeMs int64                     `json:"batchCacheAgeMs"`
	InFlight        int64                     `json:"inFlight"`
	Windows         map[string]Window         `json:"windows"`
	Providers       []adapters.HealthSnapshot `json:"providers"`
}

func (s *Service) GetServiceStats(ctx context.Context) ServiceStats {
	stats := ServiceStats{
		RateLimitActive: s.tracker.IsLimited(ServiceKey),
		Scope:           s.opts.Scope,
		RetryCount:      s.resolver.retryCount.Load(),
		InFlight:        s.resolver.inFlight.Load(),
		Windows:         s.tracker.Snapshot(),
		Providers:       s.resolver.healthSnapshots(),
	}
	if until := s.tracker.Until(ServiceKey); !until.IsZero() {
		stats.RateLimitUntil = &until
	}

	sizes, err := s.cache.Sizes(ctx)
	if err != nil {
		observ.Log("cache_stats_error", map[string]any{"error": err.Error()})
	}
	stats.CacheSize = sizes.Entries
	stats.BatchCacheSize = sizes.BatchEntries
	stats.BatchCacheAgeMs = sizes.BatchAge.Milliseconds()
	return stats
}

// RateLimited reports whether the service breaker is open
func (s *Service) RateLimited() bool {
	return s.tracker.IsLimited(ServiceKey)
}

// ResetRateLimit clears every breaker and the retry counter
func (s *Service) ResetRateLimit() {
	s.tracker.ResetAll()
	s.resolver.retryCount.Store(0)
}

// ActivateRateLimit trips the service breaker for d (d <= 0 uses the cooldown)
func (s *Service) ActivateRateLimit(d time.Duration) time.Time {
	return s.tracker.Activate(ServiceKey, d)
}

// ClearAllCache drops every cached record and the batch
func (s *Service) ClearAllCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	observ.Log("cache_cleared", nil)
	return nil
}

// PurgeStale removes cache entries older than maxAge
func (s *Service) PurgeStale(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.cache.PurgeStale(ctx, maxAge)
}

// GetFundamentals returns the persisted fundamentals for symbol, generating
// and storing them when missing or older than the fundamentals TTL
func (s *Service) GetFundamentals(ctx context.Context, symbol string) adapters.Fundamentals {
	if f, ok := s.cache.GetFundamentals(ctx, symbol, s.opts.FundamentalsTTL); ok {
		return f
	}
	f := s.fundamentals.Generate(symbol)
	if err := s.cache.SetFundamentals(ctx, f); err != nil {
		observ.Log("fundamentals_write_error", map[string]any{"symbol": f.Symbol, "error": err.Error()})
	}
	return f
}
