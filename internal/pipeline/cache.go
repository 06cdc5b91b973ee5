package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
	"github.com/Rajchodisetti/marketfeed/internal/store"
)

// Store keys
const (
	MarketKeyPrefix       = "market_"
	BatchKey              = "cached_market_batch"
	BatchTimestampKey     = "cached_market_batch_ts"
	FundamentalsKeyPrefix = "gem_fundamentals_"
)

// ErrNotCacheable is returned when a record's provenance may not be persisted
var ErrNotCacheable = errors.New("record provenance is not cacheable")

// MarketKey is the single-symbol cache key
func MarketKey(symbol string) string {
	return MarketKeyPrefix + adapters.CanonicalSymbol(symbol)
}

// cacheEntry is the persisted single-symbol payload; timestamp is epoch ms
type cacheEntry struct {
	Data      *adapters.MarketRecord `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Cache is the persistent single-symbol and batch cache
type Cache struct {
	mu          sync.RWMutex
	store       store.Store
	ttl         time.Duration
	extendedTTL time.Duration
	now         func() time.Time
}

// NewCache wraps st. The extended TTL is only used while rate limited.
func NewCache(st store.Store, ttl, extendedTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if extendedTTL < ttl {
		extendedTTL = ttl
	}
	return &Cache{
		store:       st,
		ttl:         ttl,
		extendedTTL: extendedTTL,
		now:         time.Now,
	}
}

func (c *Cache) fresh(ts int64, extended bool) bool {
	ttl := c.ttl
	if extended {
		ttl = c.extendedTTL
	}
	age := c.now().Sub(time.UnixMilli(ts))
	return age < ttl
}

// Get returns the record for symbol tagged as cache, or false when absent or stale
func (c *Cache) Get(ctx context.Context, symbol string, extended bool) (*adapters.MarketRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := MarketKey(symbol)
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			observ.Log("cache_read_error", map[string]any{"key": key, "error": err.Error()})
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Data == nil {
		observ.Log("cache_corrupt_entry", map[string]any{"key": key})
		return nil, false
	}
	if !c.fresh(entry.Timestamp, extended) {
		return nil, false
	}
	return entry.Data.WithProvenance(adapters.ProvenanceCache), true
}

// Set overwrites the entry for rec.Symbol, stamped now. Fallback records are refused.
func (c *Cache) Set(ctx context.Context, rec *adapters.MarketRecord) error {
	if rec == nil || !rec.Provenance.Cacheable() {
		return ErrNotCacheable
	}

	raw, err := json.Marshal(cacheEntry{Data: rec, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Set(ctx, MarketKey(rec.Symbol), raw)
}

// GetBatch returns the whole batch tagged as cache, or false unless the single
// batch timestamp is within TTL
func (c *Cache) GetBatch(ctx context.Context, extended bool) (map[string]*adapters.MarketRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ts, ok := c.batchTimestamp(ctx)
	if !ok || !c.fresh(ts, extended) {
		return nil, false
	}

	raw, err := c.store.Get(ctx, BatchKey)
	if err != nil {
		return nil, false
	}
	var batch map[string]*adapters.MarketRecord
	if err := json.Unmarshal(raw, &batch); err != nil {
		observ.Log("cache_corrupt_entry", map[string]any{"key": BatchKey})
		return nil, false
	}

	out := make(map[string]*adapters.MarketRecord, len(batch))
	for sym, rec := range batch {
		if rec != nil {
			out[sym] = rec.WithProvenance(adapters.ProvenanceCache)
		}
	}
	return out, true
}

// SetBatch writes every cacheable record under one timestamp. Fallback
// records are left out; an empty result writes nothing.
func (c *Cache) SetBatch(ctx context.Context, records []*adapters.MarketRecord) error {
	batch := make(map[string]*adapters.MarketRecord, len(records))
	for _, rec := range records {
		if rec != nil && rec.Provenance.Cacheable() {
			batch[adapters.CanonicalSymbol(rec.Symbol)] = rec
		}
	}
	if len(batch) == 0 {
		return nil
	}

	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Set(ctx, BatchKey, raw); err != nil {
		return err
	}
	return c.store.Set(ctx, BatchTimestampKey, []byte(strconv.FormatInt(c.now().UnixMilli(), 10)))
}

func (c *Cache) batchTimestamp(ctx context.Context) (int64, bool) {
	raw, err := c.store.Get(ctx, BatchTimestampKey)
	if err != nil {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// PurgeStale deletes single-symbol entries and the batch when older than maxAge
func (c *Cache) PurgeStale(ctx context.Context, maxAge time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, MarketKeyPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-maxAge).UnixMilli()
	var stale []string
	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Timestamp < cutoff {
			stale = append(stale, key)
		}
	}
	if ts, ok := c.batchTimestamp(ctx); ok && ts < cutoff {
		stale = append(stale, BatchKey, BatchTimestampKey)
	}

	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, stale...); err != nil {
		return 0, err
	}
	observ.Log("cache_purged", map[string]any{"removed": len(stale), "max_age_ms": maxAge.Milliseconds()})
	return len(stale), nil
}

// Clear removes all market entries and the batch. Fundamentals are kept.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, MarketKeyPrefix)
	if err != nil {
		return err
	}
	keys = append(keys, BatchKey, BatchTimestampKey)
	return c.store.Delete(ctx, keys...)
}

// CacheSizes describes what the cache currently holds
type CacheSizes struct {
	Entries      int
	BatchEntries int
	BatchAge     time.Duration // zero when there is no batch
}

func (c *Cache) Sizes(ctx context.Context) (CacheSizes, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sizes CacheSizes
	keys, err := c.store.Keys(ctx, MarketKeyPrefix)
	if err != nil {
		return sizes, err
	}
	sizes.Entries = len(keys)

	if ts, ok := c.batchTimestamp(ctx); ok {
		sizes.BatchAge = c.now().Sub(time.UnixMilli(ts))
		if raw, err := c.store.Get(ctx, BatchKey); err == nil {
			var batch map[string]json.RawMessage
			if json.Unmarshal(raw, &batch) == nil {
				sizes.BatchEntries = len(batch)
			}
		}
	}
	return sizes, nil
}

// fundamentalsEntry wraps fundamentals with their capture time
type fundamentalsEntry struct {
	Data      adapters.Fundamentals `json:"data"`
	Timestamp int64                 `json:"timestamp"`
}

// GetFundamentals returns stored fundamentals younger than maxAge
func (c *Cache) GetFundamentals(ctx context.Context, symbol string, maxAge time.Duration) (adapters.Fundamentals, bool) {
	raw, err := c.store.Get(ctx, FundamentalsKeyPrefix+adapters.CanonicalSymbol(symbol))
	if err != nil {
		return adapters.Fundamentals{}, false
	}
	var entry fundamentalsEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return adapters.Fundamentals{}, false
	}
	if c.now().Sub(time.UnixMilli(entry.Timestamp)) >= maxAge {
		return adapters.Fundamentals{}, false
	}
	return entry.Data, true
}

func (c *Cache) SetFundamentals(ctx context.Context, f adapters.Fundamentals) error {
	raw, err := json.Marshal(fundamentalsEntry{Data: f, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, FundamentalsKeyPrefix+adapters.CanonicalSymbol(f.Symbol), raw)
}
