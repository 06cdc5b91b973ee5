package pipeline

import (
	"context"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// GetBatchMarketData resolves symbols in input order. A valid batch cache
// serves every symbol it holds; the rest resolve one by one.
func (s *Service) GetBatchMarketData(ctx context.Context, symbols []string) []*adapters.MarketRecord {
	out := make([]*adapters.MarketRecord, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	canonical := make([]string, len(symbols))
	for i, sym := range symbols {
		canonical[i] = adapters.CanonicalSymbol(sym)
	}

	limited := s.tracker.IsLimited(ServiceKey)

	if batch, ok := s.cache.GetBatch(ctx, limited); ok {
		misses := 0
		for i, sym := range canonical {
			if rec, ok := batch[sym]; ok {
				out[i] = rec
				continue
			}
			misses++
			out[i] = s.resolver.Resolve(ctx, sym)
		}
		observ.Log("batch_served", map[string]any{"source": "batch_cache", "symbols": len(symbols), "misses": misses})
		return out
	}

	if limited {
		for i, sym := range canonical {
			out[i] = s.synthesize(sym)
		}
		s.writeBatch(ctx, out)
		observ.Log("batch_served", map[string]any{"source": "mock", "symbols": len(symbols)})
		return out
	}

	// Sequential so the shared throttles keep spacing calls per provider
	for i, sym := range canonical {
		out[i] = s.resolver.Resolve(ctx, sym)
	}
	s.writeBatch(ctx, out)
	observ.Log("batch_served", map[string]any{"source": "resolver", "symbols": len(symbols)})
	return out
}

// synthesize produces a record without touching providers: mock when allowed, else fallback
func (s *Service) synthesize(symbol string) *adapters.MarketRecord {
	if s.opts.UseMock && s.mock != nil {
		if rec, err := s.mock.Generate(symbol); err == nil {
			return rec
		}
	}
	return s.fallback.Record(symbol)
}

// writeBatch stores the batch unless the caller gave up, in which case the
// records may be stand-ins for an abandoned resolution
func (s *Service) writeBatch(ctx context.Context, records []*adapters.MarketRecord) {
	if ctx.Err() != nil {
		observ.Log("batch_cache_write_skipped", map[string]any{"reason": "cancelled", "symbols": len(records)})
		return
	}
	if err := s.cache.SetBatch(ctx, records); err != nil {
		observ.Log("batch_cache_write_error", map[string]any{"error": err.Error()})
	}
}
