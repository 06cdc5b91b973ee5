// Package app assembles the pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/config"
	"github.com/Rajchodisetti/marketfeed/internal/httpapi"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
	"github.com/Rajchodisetti/marketfeed/internal/pipeline"
	"github.com/Rajchodisetti/marketfeed/internal/store"
)

// App holds everything one process needs
type App struct {
	Config    config.Root
	Store     store.Store
	Service   *pipeline.Service
	Refresher *pipeline.Refresher
}

// New opens the store and builds the provider chains and pipeline service
func New(ctx context.Context, cfg config.Root) (*App, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	stocks, crypto := adapters.NewProviders(cfg.Providers, newHTTPClient())
	if len(stocks) == 0 && len(crypto) == 0 {
		observ.Log("no_providers_configured", map[string]any{"note": "every request will degrade to synthetic data"})
	}

	opts := cfg.PipelineOptions()
	svc := pipeline.NewService(opts, pipeline.Deps{
		Store:        st,
		Stocks:       stocks,
		Crypto:       crypto,
		Throttles:    pipeline.NewThrottles(cfg.Providers.RequestDelay),
		Mock:         adapters.NewMockGenerator(0),
		Fallback:     adapters.NewFallbackGenerator(0),
		Fundamentals: adapters.NewFundamentalsGenerator(0),
	})

	if n, err := svc.RestoreState(ctx); err != nil {
		observ.Log("rate_limit_state_restore_error", map[string]any{"error": err.Error()})
	} else if n > 0 {
		observ.Log("rate_limit_resumed", map[string]any{"windows": n})
	}

	a := &App{Config: cfg, Store: st, Service: svc}
	if cfg.Refresh.Enabled {
		a.Refresher = pipeline.NewRefresher(svc, cfg.RefresherConfig())
	}

	observ.Log("app_initialized", map[string]any{
		"store":            cfg.Store.Driver,
		"stock_providers":  len(stocks),
		"crypto_providers": len(crypto),
		"scope":            opts.Scope,
		"use_mock":         opts.UseMock,
		"refresh":          cfg.Refresh.Enabled,
	})
	return a, nil
}

// newHTTPClient is shared by every adapter. It has no overall timeout;
// each request is bounded by its provider's timeout_ms through the context.
func newHTTPClient() *http.Client {
	return &http.Client{}
}

// Router returns the HTTP handler for the configured server section
func (a *App) Router() *gin.Engine {
	return httpapi.NewRouter(a.Service, httpapi.Options{
		Mode:         a.Config.Server.Mode,
		AllowOrigins: a.Config.Server.CORSOrigins,
	})
}

// Start launches background work; it is a no-op when refresh is disabled
func (a *App) Start(ctx context.Context) {
	if a.Refresher != nil {
		a.Refresher.Start(ctx)
	}
}

// Close stops background work, persists breaker state and releases the store
func (a *App) Close() error {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Service.SaveState(ctx); err != nil {
		observ.Log("rate_limit_state_save_error", map[string]any{"error": err.Error()})
	}
	return a.Store.Close()
}

// ShutdownTimeout is how long the server may drain on exit
func (a *App) ShutdownTimeout() time.Duration {
	return time.Duration(a.Config.Server.ShutdownTimeoutSecs) * time.Second
}
