package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

type chainOutcome int

const (
	outcomeOK chainOutcome = iota
	outcomeFailed
	outcomeLimited
	outcomeCancelled
)

// Resolver turns one symbol into a record: cache, then providers with
// retries, then the degrade ladder. It never fails.
type Resolver struct {
	cache     *Cache
	tracker   *Tracker
	throttles *Throttles
	stocks    []adapters.Provider
	crypto    []adapters.Provider
	health    map[string]*adapters.ProviderHealth
	mock      adapters.Generator
	fallback  *adapters.FallbackGenerator
	opts      Options

	group      singleflight.Group
	retryCount atomic.Int64
	inFlight   atomic.Int64

	// sleep waits between attempts; swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func newResolver(opts Options, cache *Cache, tracker *Tracker, throttles *Throttles,
	stocks, crypto []adapters.Provider, mock adapters.Generator, fallback *adapters.FallbackGenerator) *Resolver {

	health := make(map[string]*adapters.ProviderHealth)
	for _, chain := range [][]adapters.Provider{stocks, crypto} {
		for _, p := range chain {
			health[p.Name()] = adapters.NewProviderHealth(p.Name())
		}
	}
	return &Resolver{
		cache:     cache,
		tracker:   tracker,
		throttles: throttles,
		stocks:    stocks,
		crypto:    crypto,
		health:    health,
		mock:      mock,
		fallback:  fallback,
		opts:      opts,
		sleep:     sleepCtx,
	}
}

// Resolve returns a record for symbol, degrading provenance instead of failing.
// Concurrent callers for the same symbol share one resolution, which runs
// detached from any single caller so one caller giving up does not degrade
// the others. A caller whose ctx ends first gets a record that is never cached.
func (r *Resolver) Resolve(ctx context.Context, symbol string) *adapters.MarketRecord {
	canonical := adapters.CanonicalSymbol(symbol)

	if rec, ok := r.cache.Get(ctx, canonical, false); ok {
		observ.IncCounter("market_cache_hit_total", nil)
		return rec
	}
	observ.IncCounter("market_cache_miss_total", nil)

	if ctx.Err() != nil {
		return r.abandon(ctx, canonical)
	}

	ch := r.group.DoChan(canonical, func() (any, error) {
		r.inFlight.Add(1)
		defer r.inFlight.Add(-1)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.resolveTimeout())
		defer cancel()
		return r.resolve(rctx, canonical), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			observ.IncCounter("market_inflight_shared_total", nil)
		}
		return res.Val.(*adapters.MarketRecord).Clone()
	case <-ctx.Done():
		return r.abandon(ctx, canonical)
	}
}

// abandon answers a caller that stopped waiting without touching the cache
func (r *Resolver) abandon(ctx context.Context, symbol string) *adapters.MarketRecord {
	return r.degradeTransient(context.WithoutCancel(ctx), symbol, "cancelled")
}

func (r *Resolver) resolveTimeout() time.Duration {
	if r.opts.ResolveTimeout > 0 {
		return r.opts.ResolveTimeout
	}
	return DefaultResolveTimeout
}

func (r *Resolver) resolve(ctx context.Context, symbol string) *adapters.MarketRecord {
	if r.tracker.IsLimited(ServiceKey) {
		return r.degrade(ctx, symbol, "rate_limited")
	}

	chain := r.chainFor(symbol)
	if len(chain) == 0 {
		return r.degrade(ctx, symbol, "no_providers")
	}

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			r.retryCount.Add(1)
			observ.IncCounter("market_retry_total", nil)
			if err := r.sleep(ctx, time.Duration(attempt)*r.opts.Backoff); err != nil {
				return r.degradeTransient(context.WithoutCancel(ctx), symbol, "cancelled")
			}
		}

		rec, outcome := r.tryChain(ctx, symbol, chain)
		switch outcome {
		case outcomeOK:
			r.retryCount.Store(0)
			rec = rec.Clone()
			rec.Symbol = symbol
			rec.Provenance = adapters.ProvenanceReal
			rec.Normalize()
			if err := r.cache.Set(ctx, rec); err != nil {
				observ.Log("cache_write_error", map[string]any{"symbol": symbol, "error": err.Error()})
			}
			return rec
		case outcomeLimited:
			return r.degrade(ctx, symbol, "rate_limited")
		case outcomeCancelled:
			return r.degradeTransient(context.WithoutCancel(ctx), symbol, "cancelled")
		}

		observ.Log("market_fetch_attempt_failed", map[string]any{
			"symbol":      symbol,
			"attempt":     attempt,
			"max_retries": r.opts.MaxRetries,
		})
	}
	return r.degrade(ctx, symbol, "retries_exhausted")
}

// tryChain walks the chain once in order and returns the first success
func (r *Resolver) tryChain(ctx context.Context, symbol string, chain []adapters.Provider) (*adapters.MarketRecord, chainOutcome) {
	limited := 0
	for _, p := range chain {
		key := r.scopeKey(p.Name())
		if r.tracker.IsLimited(key) {
			limited++
			continue
		}

		rec, err := r.fetch(ctx, p, symbol)
		if err == nil {
			return rec, outcomeOK
		}
		if ctx.Err() != nil {
			return nil, outcomeCancelled
		}
		if adapters.IsRateLimited(err) {
			r.tracker.Activate(key, r.opts.Cooldown)
			if key == ServiceKey {
				return nil, outcomeLimited
			}
			limited++
		}
	}
	if limited == len(chain) {
		return nil, outcomeLimited
	}
	return nil, outcomeFailed
}

// fetch throttles, calls one provider and records the outcome
func (r *Resolver) fetch(ctx context.Context, p adapters.Provider, symbol string) (*adapters.MarketRecord, error) {
	if err := r.throttles.Acquire(ctx, p.Name()); err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err := p.Fetch(ctx, symbol)
	if err == nil && rec == nil {
		err = adapters.NewParseError(p.Name(), symbol, "provider returned no record", nil)
	}
	r.record(ctx, p.Name(), symbol, start, err)
	return rec, err
}

func (r *Resolver) record(ctx context.Context, provider, symbol string, start time.Time, err error) {
	h := r.health[provider]
	if err == nil {
		if h != nil {
			h.RecordSuccess(time.Since(start))
		}
		observ.IncCounter("market_fetch_total", map[string]string{"provider": provider, "result": "success"})
		return
	}

	kind := adapters.KindOf(err)
	if ctx.Err() != nil || kind == adapters.KindCancelled {
		// the caller gave up; the provider's health is unknown
		observ.Log("market_fetch_abandoned", map[string]any{"provider": provider, "symbol": symbol})
		return
	}
	if h != nil {
		h.RecordError(err)
	}
	observ.IncCounter("market_fetch_total", map[string]string{"provider": provider, "result": string(kind)})
	observ.Log("market_fetch_failed", map[string]any{
		"provider": provider,
		"symbol":   symbol,
		"kind":     string(kind),
		"error":    err.Error(),
	})
}

// degrade walks extended cache, then mock, then fallback
func (r *Resolver) degrade(ctx context.Context, symbol, reason string) *adapters.MarketRecord {
	return r.walkLadder(ctx, symbol, reason, true)
}

// degradeTransient walks the same ladder but never writes the mock to the cache
func (r *Resolver) degradeTransient(ctx context.Context, symbol, reason string) *adapters.MarketRecord {
	return r.walkLadder(ctx, symbol, reason, false)
}

func (r *Resolver) walkLadder(ctx context.Context, symbol, reason string, persist bool) *adapters.MarketRecord {
	if rec, ok := r.cache.Get(ctx, symbol, true); ok {
		r.logDegrade(symbol, reason, rec.Provenance)
		return rec
	}

	if r.opts.UseMock && r.mock != nil {
		rec, err := r.mock.Generate(symbol)
		if err == nil {
			if persist {
				if err := r.cache.Set(ctx, rec); err != nil {
					observ.Log("cache_write_error", map[string]any{"symbol": symbol, "error": err.Error()})
				}
			}
			r.logDegrade(symbol, reason, rec.Provenance)
			return rec
		}
		observ.Log("mock_generate_failed", map[string]any{"symbol": symbol, "error": err.Error()})
	}

	rec := r.fallback.Record(symbol)
	r.logDegrade(symbol, reason, rec.Provenance)
	return rec
}

func (r *Resolver) logDegrade(symbol, reason string, p adapters.Provenance) {
	observ.IncCounter("market_degrade_total", map[string]string{"provenance": string(p), "reason": reason})
	observ.Log("market_degraded", map[string]any{
		"symbol":     symbol,
		"reason":     reason,
		"provenance": string(p),
	})
}

func (r *Resolver) chainFor(symbol string) []adapters.Provider {
	if adapters.ClassifyAsset(symbol) == adapters.AssetCrypto {
		return r.crypto
	}
	return r.stocks
}

// scopeKey maps a provider onto the breaker it trips and obeys
func (r *Resolver) scopeKey(provider string) string {
	if r.opts.Scope == ScopeProvider {
		return provider
	}
	return ServiceKey
}

func (r *Resolver) healthSnapshots() []adapters.HealthSnapshot {
	var out []adapters.HealthSnapshot
	for _, chain := range [][]adapters.Provider{r.stocks, r.crypto} {
		for _, p := range chain {
			if h := r.health[p.Name()]; h != nil {
				out = append(out, h.Snapshot())
			}
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
