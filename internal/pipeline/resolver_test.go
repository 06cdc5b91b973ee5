package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
)

func TestResolver_FetchesAndCaches(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(quote("yahoo", "AAPL", 150.1234, 1.5), nil).Once()

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)
	ctx := context.Background()

	first := env.svc.GetMarketData(ctx, "aapl")
	assert.Equal(t, adapters.ProvenanceReal, first.Provenance)
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, 150.1234, first.Price)
	assert.Equal(t, adapters.AssetStock, first.AssetType)

	second := env.svc.GetMarketData(ctx, "AAPL")
	assert.Equal(t, adapters.ProvenanceCache, second.Provenance)

	// Identical apart from provenance
	second.Provenance = first.Provenance
	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	yahoo.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestResolver_RoundsPrices(t *testing.T) {
	raw := &adapters.MarketRecord{Symbol: "AAPL", Price: 123.456789, Provenance: adapters.ProvenanceReal}
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(raw, nil)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)
	ctx := context.Background()

	assert.Equal(t, 123.4568, env.svc.GetMarketData(ctx, "AAPL").Price)
	assert.Equal(t, 123.4568, env.svc.GetMarketData(ctx, "AAPL").Price, "cached value is rounded too")
	assert.Equal(t, 123.456789, raw.Price, "provider record is not mutated")
}

func TestResolver_CircuitBreakerSkipsProviders(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	gecko := newMockProvider("coingecko", adapters.AssetCrypto)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, []adapters.Provider{gecko})
	ctx := context.Background()

	env.svc.ActivateRateLimit(60 * time.Second)

	for _, sym := range []string{"AAPL", "MSFT", "bitcoin", "ETH"} {
		rec := env.svc.GetMarketData(ctx, sym)
		assert.Equal(t, adapters.ProvenanceMock, rec.Provenance, sym)
	}
	yahoo.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	gecko.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	// Still inside the window a second later
	env.clock.Advance(59 * time.Second)
	env.svc.GetMarketData(ctx, "NVDA")
	yahoo.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestResolver_RateLimitErrorTripsBreaker(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewRateLimitError("yahoo", "AAPL", "HTTP 429")).Once()
	fmp := newMockProvider("fmp", adapters.AssetStock)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo, fmp}, nil)
	ctx := context.Background()

	rec := env.svc.GetMarketData(ctx, "AAPL")
	assert.Equal(t, adapters.ProvenanceMock, rec.Provenance)
	assert.Empty(t, env.sleeps, "no retry after a rate limit")

	stats := env.svc.GetServiceStats(ctx)
	assert.True(t, stats.RateLimitActive)
	require.NotNil(t, stats.RateLimitUntil)
	assert.Equal(t, env.clock.Now().Add(DefaultCooldown), *stats.RateLimitUntil)

	env.svc.GetMarketData(ctx, "MSFT")
	yahoo.AssertNumberOfCalls(t, "Fetch", 1)
	fmp.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	// After the window the providers are used again
	env.clock.Advance(DefaultCooldown)
	yahoo.On("Fetch", mock.Anything, "GOOGL").Return(quote("yahoo", "GOOGL", 140, 2), nil).Once()
	assert.Equal(t, adapters.ProvenanceReal, env.svc.GetMarketData(ctx, "GOOGL").Provenance)
}

func TestResolver_RetryBound(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewHTTPError("yahoo", "AAPL", 503, "unavailable", nil))

	opts := DefaultOptions()
	env := newTestEnv(t, opts, []adapters.Provider{yahoo}, nil)

	rec := env.svc.GetMarketData(context.Background(), "AAPL")

	yahoo.AssertNumberOfCalls(t, "Fetch", opts.MaxRetries+1)
	assert.Equal(t, adapters.ProvenanceMock, rec.Provenance)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, env.sleeps, "linear backoff")
	assert.Equal(t, int64(opts.MaxRetries), env.svc.GetServiceStats(context.Background()).RetryCount)
	assert.False(t, env.svc.tracker.IsLimited(ServiceKey))
}

func TestResolver_SuccessResetsRetryCount(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewTimeoutError("yahoo", "AAPL", nil)).Once()
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(quote("yahoo", "AAPL", 150, 1), nil).Once()

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)

	rec := env.svc.GetMarketData(context.Background(), "AAPL")
	assert.Equal(t, adapters.ProvenanceReal, rec.Provenance)
	assert.Equal(t, []time.Duration{2 * time.Second}, env.sleeps)
	assert.Zero(t, env.svc.GetServiceStats(context.Background()).RetryCount)
}

func TestResolver_FallsThroughChainInOrder(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "TSLA").Return(nil, adapters.NewParseError("yahoo", "TSLA", "bad shape", nil))
	finnhub := newMockProvider("finnhub", adapters.AssetStock)
	finnhub.On("Fetch", mock.Anything, "TSLA").Return(quote("finnhub", "TSLA", 245.6, -3), nil)
	polygon := newMockProvider("polygon", adapters.AssetStock)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo, finnhub, polygon}, nil)

	rec := env.svc.GetMarketData(context.Background(), "TSLA")
	assert.Equal(t, adapters.ProvenanceReal, rec.Provenance)
	assert.Equal(t, "finnhub", rec.Source)
	assert.Empty(t, env.sleeps)
	polygon.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	stats := env.svc.GetServiceStats(context.Background())
	require.Len(t, stats.Providers, 3)
	assert.Equal(t, int64(1), stats.Providers[0].ErrorCount)
	assert.Equal(t, int64(1), stats.Providers[1].SuccessCount)
}

func TestResolver_ProviderScope(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewRateLimitError("yahoo", "AAPL", "HTTP 429")).Once()
	fmp := newMockProvider("fmp", adapters.AssetStock)
	fmp.On("Fetch", mock.Anything, mock.Anything).Return(quote("fmp", "AAPL", 150, 1), nil)

	opts := DefaultOptions()
	opts.Scope = ScopeProvider
	env := newTestEnv(t, opts, []adapters.Provider{yahoo, fmp}, nil)
	ctx := context.Background()

	rec := env.svc.GetMarketData(ctx, "AAPL")
	assert.Equal(t, adapters.ProvenanceReal, rec.Provenance)
	assert.Equal(t, "fmp", rec.Source)
	assert.True(t, env.svc.tracker.IsLimited("yahoo"))
	assert.False(t, env.svc.tracker.IsLimited(ServiceKey))

	// yahoo is skipped while its own window is open
	env.svc.GetMarketData(ctx, "GOOGL")
	yahoo.AssertNumberOfCalls(t, "Fetch", 1)
	fmp.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestResolver_ProviderScopeAllLimited(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewRateLimitError("yahoo", "AAPL", "HTTP 429")).Once()

	opts := DefaultOptions()
	opts.Scope = ScopeProvider
	env := newTestEnv(t, opts, []adapters.Provider{yahoo}, nil)

	rec := env.svc.GetMarketData(context.Background(), "AAPL")
	assert.Equal(t, adapters.ProvenanceMock, rec.Provenance)
	assert.Empty(t, env.sleeps, "no retries once every provider is limited")
	assert.True(t, env.svc.tracker.IsLimited("yahoo"))
	assert.False(t, env.svc.tracker.IsLimited(ServiceKey), "only manual activation trips the service breaker")
	assert.False(t, env.svc.RateLimited())
}

func TestResolver_DegradesToExtendedCache(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(quote("yahoo", "AAPL", 150, 1), nil).Once()
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewRateLimitError("yahoo", "AAPL", "HTTP 429")).Once()

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)
	ctx := context.Background()

	require.Equal(t, adapters.ProvenanceReal, env.svc.GetMarketData(ctx, "AAPL").Provenance)

	// Past the normal TTL, inside the extended one
	env.clock.Advance(10 * time.Minute)
	rec := env.svc.GetMarketData(ctx, "AAPL")
	assert.Equal(t, adapters.ProvenanceCache, rec.Provenance)
	assert.Equal(t, 150.0, rec.Price)
	yahoo.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestResolver_MockIsCachedFallbackIsNot(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, DefaultOptions(), nil, nil)
	rec := env.svc.GetMarketData(ctx, "AAPL")
	assert.Equal(t, adapters.ProvenanceMock, rec.Provenance)
	assert.Equal(t, adapters.ProvenanceCache, env.svc.GetMarketData(ctx, "AAPL").Provenance)

	opts := DefaultOptions()
	opts.UseMock = false
	env = newTestEnv(t, opts, nil, nil)
	rec = env.svc.GetMarketData(ctx, "AAPL")
	assert.Equal(t, adapters.ProvenanceFallback, rec.Provenance)
	assert.Equal(t, adapters.ProvenanceFallback, env.svc.GetMarketData(ctx, "AAPL").Provenance)
	assert.Zero(t, env.svc.GetServiceStats(ctx).CacheSize)
}

func TestResolver_BrokenGeneratorFallsBack(t *testing.T) {
	svc := NewService(DefaultOptions(), Deps{
		Throttles: NewThrottles(func(string) time.Duration { return 0 }),
		Mock:      failingGenerator{},
	})

	rec := svc.GetMarketData(context.Background(), "AAPL")
	require.NotNil(t, rec)
	assert.Equal(t, adapters.ProvenanceFallback, rec.Provenance)
}

func TestResolver_AlwaysWellFormed(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, mock.Anything).Return(nil, adapters.NewHTTPError("yahoo", "", 500, "down", nil))
	gecko := newMockProvider("coingecko", adapters.AssetCrypto)
	gecko.On("Fetch", mock.Anything, mock.Anything).Return(nil, adapters.NewTimeoutError("coingecko", "", nil))

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, []adapters.Provider{gecko})

	for _, sym := range []string{"AAPL", "bitcoin", "BTC-USD", "doge", "ZZZZ", "", "not a symbol"} {
		rec := env.svc.GetMarketData(context.Background(), sym)
		require.NotNil(t, rec, sym)
		assert.GreaterOrEqual(t, rec.Price, 0.0, sym)
		assert.Equal(t, adapters.ClassifyAsset(rec.Symbol), rec.AssetType, sym)
	}
}

func TestResolver_CancelledDuringBackoff(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(nil, adapters.NewHTTPError("yahoo", "AAPL", 500, "down", nil))

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	env.svc.resolver.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	rec := env.svc.GetMarketData(ctx, "AAPL")
	assert.NotNil(t, rec)
	yahoo.AssertNumberOfCalls(t, "Fetch", 1)
}

// blockingProvider counts calls and holds each one until released
type blockingProvider struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Name() string                  { return "blocking" }
func (b *blockingProvider) AssetType() adapters.AssetType { return adapters.AssetStock }
func (b *blockingProvider) HealthCheck(context.Context) error {
	return nil
}

func (b *blockingProvider) Fetch(ctx context.Context, symbol string) (*adapters.MarketRecord, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return quote("blocking", symbol, 100, 1), nil
}

func TestResolver_DeduplicatesInFlight(t *testing.T) {
	bp := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{bp}, nil)
	ctx := context.Background()

	const callers = 8
	results := make([]*adapters.MarketRecord, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = env.svc.GetMarketData(ctx, "AAPL")
	}()
	<-bp.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.svc.GetMarketData(ctx, "AAPL")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), env.svc.GetServiceStats(ctx).InFlight)
	close(bp.release)
	wg.Wait()

	assert.Equal(t, int32(1), bp.calls.Load())
	for i, rec := range results {
		require.NotNil(t, rec, i)
		assert.Equal(t, 100.0, rec.Price)
	}
	// Callers get independent copies
	results[1].Price = 1
	assert.Equal(t, 100.0, results[2].Price)
}

// gatedProvider holds every Fetch until released or its ctx ends
type gatedProvider struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedProvider) Name() string                      { return "gated" }
func (g *gatedProvider) AssetType() adapters.AssetType     { return adapters.AssetStock }
func (g *gatedProvider) HealthCheck(context.Context) error { return nil }

func (g *gatedProvider) Fetch(ctx context.Context, symbol string) (*adapters.MarketRecord, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return quote("gated", symbol, 210.5, 2), nil
	case <-ctx.Done():
		return nil, adapters.NewCancelledError("gated", symbol, ctx.Err())
	}
}

func TestResolver_CallerCancelDoesNotPoisonOthers(t *testing.T) {
	gp := newGatedProvider()
	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{gp}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan *adapters.MarketRecord, 1)
	go func() { abandoned <- env.svc.GetMarketData(ctx, "AAPL") }()
	<-gp.started

	live := make(chan *adapters.MarketRecord, 1)
	go func() { live <- env.svc.GetMarketData(context.Background(), "AAPL") }()

	cancel()
	first := <-abandoned
	require.NotNil(t, first)
	assert.Equal(t, adapters.ProvenanceMock, first.Provenance)

	_, cached := env.svc.cache.Get(context.Background(), "AAPL", true)
	assert.False(t, cached, "a stand-in for a cancelled caller is never cached")

	close(gp.release)
	second := <-live
	require.NotNil(t, second)
	assert.Contains(t, []adapters.Provenance{adapters.ProvenanceReal, adapters.ProvenanceCache}, second.Provenance)
	assert.Equal(t, "gated", second.Source)
	assert.Equal(t, 210.5, second.Price)

	third := env.svc.GetMarketData(context.Background(), "AAPL")
	assert.Equal(t, adapters.ProvenanceCache, third.Provenance)
	assert.Equal(t, "gated", third.Source)
	assert.Equal(t, int32(1), gp.calls.Load())

	stats := env.svc.GetServiceStats(context.Background())
	require.Len(t, stats.Providers, 1)
	assert.Equal(t, adapters.ProviderStatusHealthy, stats.Providers[0].Status)
	assert.Zero(t, stats.Providers[0].ErrorCount)
}

func TestResolver_CancelAfterAbandonStillResolves(t *testing.T) {
	gp := newGatedProvider()
	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{gp}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan *adapters.MarketRecord, 1)
	go func() { abandoned <- env.svc.GetMarketData(ctx, "MSFT") }()
	<-gp.started
	cancel()
	assert.NotEqual(t, adapters.ProvenanceReal, (<-abandoned).Provenance)

	// The shared resolution keeps going and caches the real answer
	close(gp.release)
	require.Eventually(t, func() bool {
		rec, ok := env.svc.cache.Get(context.Background(), "MSFT", false)
		return ok && rec.Source == "gated"
	}, time.Second, 5*time.Millisecond)

	next := env.svc.GetMarketData(context.Background(), "MSFT")
	assert.Equal(t, "gated", next.Source)
	assert.Equal(t, int32(1), gp.calls.Load())
}

func TestResolver_AlreadyCancelledSkipsProviders(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := env.svc.GetMarketData(ctx, "AAPL")
	require.NotNil(t, rec)
	assert.Equal(t, adapters.ProvenanceMock, rec.Provenance)
	yahoo.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	_, cached := env.svc.cache.Get(context.Background(), "AAPL", true)
	assert.False(t, cached)
}

func TestResolver_CancelledFetchLeavesHealthAlone(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.svc.resolver.record(ctx, "yahoo", "AAPL", time.Now(), adapters.NewHTTPError("yahoo", "AAPL", 0, "request failed", context.Canceled))
	env.svc.resolver.record(context.Background(), "yahoo", "AAPL", time.Now(), adapters.NewCancelledError("yahoo", "AAPL", context.Canceled))

	snap := env.svc.resolver.health["yahoo"].Snapshot()
	assert.Equal(t, adapters.ProviderStatusHealthy, snap.Status)
	assert.Zero(t, snap.ErrorCount)

	env.svc.resolver.record(context.Background(), "yahoo", "AAPL", time.Now(), adapters.NewHTTPError("yahoo", "AAPL", 500, "down", nil))
	assert.Equal(t, int64(1), env.svc.resolver.health["yahoo"].Snapshot().ErrorCount)
}
