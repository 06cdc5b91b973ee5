package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// RefresherConfig drives the background warm-up and housekeeping loops
type RefresherConfig struct {
	Watchlist       []string
	RefreshInterval time.Duration
	CleanupInterval time.Duration
	PurgeMaxAge     time.Duration
}

// Refresher keeps the watchlist warm in the cache, purges stale entries
// and periodically persists breaker state
type Refresher struct {
	service *Service
	cfg     RefresherConfig
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewRefresher(service *Service, cfg RefresherConfig) *Refresher {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.PurgeMaxAge <= 0 {
		cfg.PurgeMaxAge = 24 * time.Hour
	}
	return &Refresher{service: service, cfg: cfg}
}

// Start runs both loops until ctx is done or Stop is called
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.refreshLoop(ctx)
	go r.cleanupLoop(ctx)

	observ.Log("refresher_started", map[string]any{
		"symbols":     len(r.cfg.Watchlist),
		"interval_ms": r.cfg.RefreshInterval.Milliseconds(),
	})
}

// Stop halts the loops and waits for them to exit
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	observ.Log("refresher_stopped", nil)
}

func (r *Refresher) refreshLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

func (r *Refresher) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.service.PurgeStale(ctx, r.cfg.PurgeMaxAge); err != nil {
				observ.Log("cache_purge_error", map[string]any{"error": err.Error()})
			}
			if err := r.service.SaveState(ctx); err != nil {
				observ.Log("rate_limit_state_save_error", map[string]any{"error": err.Error()})
			}
		}
	}
}

// RefreshOnce warms the watchlist and rewrites the batch cache in watchlist
// order. It returns how many symbols live providers covered.
func (r *Refresher) RefreshOnce(ctx context.Context) int {
	if len(r.cfg.Watchlist) == 0 {
		return 0
	}
	runID := uuid.NewString()
	start := time.Now()

	found := r.service.Aggregate(ctx, r.cfg.Watchlist)

	records := make([]*adapters.MarketRecord, 0, len(r.cfg.Watchlist))
	for _, sym := range r.cfg.Watchlist {
		if rec, ok := found[adapters.CanonicalSymbol(sym)]; ok {
			records = append(records, rec)
		}
	}
	// A partial refresh would leave the batch claiming freshness it lacks
	if len(records) == len(r.cfg.Watchlist) {
		r.service.writeBatch(ctx, records)
	}

	latency := time.Since(start)
	observ.RecordDuration("market_refresh_latency", latency, nil)
	observ.SetGauge("market_refresh_covered", float64(len(found)), nil)
	observ.Log("market_refresh", map[string]any{
		"run_id":     runID,
		"requested":  len(r.cfg.Watchlist),
		"covered":    len(found),
		"latency_ms": latency.Milliseconds(),
	})
	return len(found)
}
