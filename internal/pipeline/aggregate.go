package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// Aggregate asks each provider in turn for the symbols no earlier provider
// covered, merging the results. Batch-capable providers get one request per
// pass. Every record found is cached. Symbols nobody covered are absent.
func (s *Service) Aggregate(ctx context.Context, symbols []string) map[string]*adapters.MarketRecord {
	var stocks, crypto []string
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		c := adapters.CanonicalSymbol(sym)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if adapters.ClassifyAsset(c) == adapters.AssetCrypto {
			crypto = append(crypto, c)
		} else {
			stocks = append(stocks, c)
		}
	}

	out := make(map[string]*adapters.MarketRecord, len(seen))
	if s.tracker.IsLimited(ServiceKey) {
		observ.Log("aggregate_skipped", map[string]any{"reason": "rate_limited", "symbols": len(seen)})
		return out
	}

	s.aggregateChain(ctx, s.resolver.stocks, stocks, out)
	s.aggregateChain(ctx, s.resolver.crypto, crypto, out)

	for _, rec := range out {
		if err := s.cache.Set(ctx, rec); err != nil {
			observ.Log("cache_write_error", map[string]any{"symbol": rec.Symbol, "error": err.Error()})
		}
	}
	observ.Log("aggregate_complete", map[string]any{"requested": len(seen), "covered": len(out)})
	return out
}

func (s *Service) aggregateChain(ctx context.Context, chain []adapters.Provider, symbols []string, out map[string]*adapters.MarketRecord) {
	r := s.resolver
	remaining := symbols

	for _, p := range chain {
		if len(remaining) == 0 || ctx.Err() != nil {
			return
		}
		key := r.scopeKey(p.Name())
		if r.tracker.IsLimited(key) {
			continue
		}

		var found map[string]*adapters.MarketRecord
		var err error
		if bp, ok := p.(adapters.BatchProvider); ok {
			found, err = s.fetchBatch(ctx, bp, remaining)
		} else {
			found, err = s.fetchEach(ctx, p, remaining)
		}
		for sym, rec := range found {
			c := adapters.CanonicalSymbol(sym)
			if rec == nil || !seenIn(remaining, c) {
				continue
			}
			rec = rec.Clone()
			rec.Symbol = c
			rec.Provenance = adapters.ProvenanceReal
			rec.Normalize()
			out[c] = rec
		}
		remaining = uncovered(remaining, out)

		if adapters.IsRateLimited(err) {
			r.tracker.Activate(key, s.opts.Cooldown)
			if key == ServiceKey {
				return
			}
		}
	}
}

func (s *Service) fetchBatch(ctx context.Context, bp adapters.BatchProvider, symbols []string) (map[string]*adapters.MarketRecord, error) {
	r := s.resolver
	if err := r.throttles.Acquire(ctx, bp.Name()); err != nil {
		return nil, err
	}
	start := time.Now()
	found, err := bp.FetchBatch(ctx, symbols)
	r.record(ctx, bp.Name(), strings.Join(symbols, ","), start, err)
	return found, err
}

// fetchEach stops at the first rate limit so the breaker can trip
func (s *Service) fetchEach(ctx context.Context, p adapters.Provider, symbols []string) (map[string]*adapters.MarketRecord, error) {
	found := make(map[string]*adapters.MarketRecord)
	for _, sym := range symbols {
		rec, err := s.resolver.fetch(ctx, p, sym)
		if err != nil {
			if adapters.IsRateLimited(err) || ctx.Err() != nil {
				return found, err
			}
			continue
		}
		found[sym] = rec
	}
	return found, nil
}

func seenIn(symbols []string, sym string) bool {
	for _, s := range symbols {
		if s == sym {
			return true
		}
	}
	return false
}

func uncovered(symbols []string, covered map[string]*adapters.MarketRecord) []string {
	var rest []string
	for _, s := range symbols {
		if _, ok := covered[s]; !ok {
			rest = append(rest, s)
		}
	}
	return rest
}

// ProviderCheck is the outcome of one provider availability check
type ProviderCheck struct {
	Provider  string             `json:"provider"`
	AssetType adapters.AssetType `json:"assetType"`
	Available bool               `json:"available"`
	Limited   bool               `json:"limited"`
	LatencyMs int64              `json:"latencyMs"`
	ErrorKind adapters.ErrorKind `json:"errorKind,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// TestProviders checks every provider concurrently. Checks are read-only:
// they neither trip breakers nor touch the cache, and limited providers are
// reported without being called.
func (s *Service) TestProviders(ctx context.Context) []ProviderCheck {
	r := s.resolver
	var providers []adapters.Provider
	providers = append(providers, r.stocks...)
	providers = append(providers, r.crypto...)

	results := make([]ProviderCheck, len(providers))
	// Each check stores its own failure and returns nil, so the group is only
	// a join and one provider failing never cancels the rest.
	var g errgroup.Group
	for i, p := range providers {
		i, p := i, p
		results[i] =ProviderCheck{Provider: p.Name(), AssetType: p.AssetType()}
		if r.tracker.IsLimited(r.scopeKey(p.Name())) {
			results[i].Limited = true
			continue
		}
		g.Go(func() error {
			if err := r.throttles.Acquire(ctx, p.Name()); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			start := time.Now()
			err := p.HealthCheck(ctx)
			results[i].LatencyMs = time.Since(start).Milliseconds()
			if err != nil {
				results[i].ErrorKind = adapters.KindOf(err)
				results[i].Error = err.Error()
				results[i].Limited = errors.Is(err, adapters.ErrRateLimited)
				return nil
			}
			results[i].Available = true
			return nil
		})
	}
	_ = g.Wait()

	available := 0
	for _, res := range results {
		if res.Available {
			available++
		}
	}
	observ.Log("providers_checked", map[string]any{"providers": len(results), "available": available})
	return results
}
