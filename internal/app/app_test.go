package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketfeed/internal/config"
)

func testConfig(t *testing.T) config.Root {
	t.Helper()
	for _, env := range []string{"FMP_API_KEY", "FINNHUB_API_KEY", "IEX_API_TOKEN", "ALPHAVANTAGE_API_KEY", "POLYGON_API_KEY", "MARKETFEED_STORE_DRIVER"} {
		t.Setenv(env, "")
	}
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	return cfg
}

func TestNew_MemoryStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Refresher, "refresh is off by default")
	stats := a.Service.GetServiceStats(context.Background())
	names := make([]string, 0, len(stats.Providers))
	for _, p := range stats.Providers {
		names = append(names, p.Provider)
	}
	assert.ElementsMatch(t, []string{"yahoo", "coingecko", "coincap"}, names)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_SQLiteStoreWithRefresher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "feed.db")
	cfg.Refresh.Enabled = true
	cfg.Refresh.Watchlist = []string{"AAPL"}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, a.Refresher)

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	cancel()
	assert.NoError(t, a.Close())
	assert.Equal(t, cfg.Server.ShutdownTimeoutSecs, int(a.ShutdownTimeout().Seconds()))
}

func TestNew_UnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "redis"
	cfg.Store.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "open redis store")
}

func TestApp_BreakerSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "feed.db")

	first, err := New(context.Background(), cfg)
	require.NoError(t, err)
	first.Service.ActivateRateLimit(time.Hour)
	require.NoError(t, first.Close())

	second, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	assert.True(t, second.Service.RateLimited())
}

func TestNewHTTPClient_LeavesTimeoutToProviders(t *testing.T) {
	client := newHTTPClient()
	assert.Zero(t, client.Timeout, "per-provider timeout_ms bounds each request")
}
