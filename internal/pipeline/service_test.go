package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
)

func TestService_ResetRateLimit(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, "AAPL").Return(quote("yahoo", "AAPL", 150, 1), nil).Once()

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)
	ctx := context.Background()

	env.svc.ActivateRateLimit(0)
	assert.True(t, env.svc.GetServiceStats(ctx).RateLimitActive)

	env.svc.ResetRateLimit()
	stats := env.svc.GetServiceStats(ctx)
	assert.False(t, stats.RateLimitActive)
	assert.Nil(t, stats.RateLimitUntil)
	assert.Empty(t, stats.Windows)

	assert.Equal(t, adapters.ProvenanceReal, env.svc.GetMarketData(ctx, "AAPL").Provenance)
}

func TestService_ClearAllCache(t *testing.T) {
	yahoo := newMockProvider("yahoo", adapters.AssetStock)
	yahoo.On("Fetch", mock.Anything, mock.Anything).Return(quote("yahoo", "AAPL", 150, 1), nil)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{yahoo}, nil)
	ctx := context.Background()

	env.svc.GetBatchMarketData(ctx, []string{"AAPL", "MSFT"})
	env.clock.Advance(1500 * time.Millisecond)

	stats := env.svc.GetServiceStats(ctx)
	assert.Equal(t, 2, stats.CacheSize)
	assert.Equal(t, 2, stats.BatchCacheSize)
	assert.Equal(t, int64(1500), stats.BatchCacheAgeMs)
	assert.Equal(t, ScopeService, stats.Scope)

	require.NoError(t, env.svc.ClearAllCache(ctx))
	stats = env.svc.GetServiceStats(ctx)
	assert.Zero(t, stats.CacheSize)
	assert.Zero(t, stats.BatchCacheSize)

	assert.Equal(t, adapters.ProvenanceReal, env.svc.GetMarketData(ctx, "AAPL").Provenance)
	yahoo.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestService_FundamentalsArePersisted(t *testing.T) {
	env := newTestEnv(t, DefaultOptions(), nil, nil)
	ctx := context.Background()

	first := env.svc.GetFundamentals(ctx, "msft")
	second := env.svc.GetFundamentals(ctx, "MSFT")
	assert.Equal(t, "MSFT", first.Symbol)
	assert.Equal(t, first.PERatio, second.PERatio)
	assert.Equal(t, first.EPS, second.EPS)

	// Survives a cache clear, regenerated once expired
	require.NoError(t, env.svc.ClearAllCache(ctx))
	assert.Equal(t, first.PERatio, env.svc.GetFundamentals(ctx, "MSFT").PERatio)

	env.clock.Advance(DefaultFundamentalsTTL)
	_, ok := env.svc.cache.GetFundamentals(ctx, "MSFT", DefaultFundamentalsTTL)
	assert.False(t, ok)
	env.svc.GetFundamentals(ctx, "MSFT")
	_, ok = env.svc.cache.GetFundamentals(ctx, "MSFT", DefaultFundamentalsTTL)
	assert.True(t, ok)
}

func TestRefresher_RefreshOnceWarmsBatch(t *testing.T) {
	fmp := newMockBatchProvider("fmp", adapters.AssetStock)
	fmp.On("FetchBatch", mock.Anything, []string{"AAPL", "MSFT"}).Return(map[string]*adapters.MarketRecord{
		"AAPL": quote("fmp", "AAPL", 150, 1),
		"MSFT": quote("fmp", "MSFT", 380, 2),
	}, nil)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{fmp}, nil)
	ctx := context.Background()

	r := NewRefresher(env.svc, RefresherConfig{Watchlist: []string{"AAPL", "MSFT"}})
	assert.Equal(t, 2, r.RefreshOnce(ctx))

	out := env.svc.GetBatchMarketData(ctx, []string{"MSFT", "AAPL"})
	assert.Equal(t, adapters.ProvenanceCache, out[0].Provenance)
	assert.Equal(t, adapters.ProvenanceCache, out[1].Provenance)
	fmp.AssertNumberOfCalls(t, "FetchBatch", 1)
}

func TestRefresher_StartStop(t *testing.T) {
	var refreshed atomic.Bool
	fmp := newMockBatchProvider("fmp", adapters.AssetStock)
	fmp.On("FetchBatch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { refreshed.Store(true) }).
		Return(map[string]*adapters.MarketRecord{}, nil)

	env := newTestEnv(t, DefaultOptions(), []adapters.Provider{fmp}, nil)
	r := NewRefresher(env.svc, RefresherConfig{
		Watchlist:       []string{"AAPL"},
		RefreshInterval: 10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	})

	r.Start(context.Background())
	assert.Eventually(t, refreshed.Load, time.Second, 5*time.Millisecond)
	r.Stop()
}
