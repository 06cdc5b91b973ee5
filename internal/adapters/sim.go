package adapters

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// FallbackGenerator is the last resort: fully random but well-formed values
// with no symbol-specific shaping. It never fails and its output is never cached.
type FallbackGenerator struct {
	mu     sync.Mutex
	random *rand.Rand
}

// NewFallbackGenerator creates a fallback generator; seed 0 uses the clock
func NewFallbackGenerator(seed int64) *FallbackGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FallbackGenerator{random: rand.New(rand.NewSource(seed))}
}

func (f *FallbackGenerator) Name() string {
	return "fallback"
}

// Generate implements Generator; the error is always nil
func (f *FallbackGenerator) Generate(symbol string) (*MarketRecord, error) {
	return f.Record(symbol), nil
}

// Record returns a fallback-provenance record for symbol
func (f *FallbackGenerator) Record(symbol string) *MarketRecord {
	canonical := CanonicalSymbol(symbol)
	if canonical == "" {
		canonical = "UNKNOWN"
	}

	f.mu.Lock()
	base := 10 + f.random.Float64()*990
	pct := (f.random.Float64()*2 - 1) * 10 // ±10%
	volume := 100_000 + f.random.Float64()*9_900_000
	f.mu.Unlock()

	rec := &MarketRecord{
		Symbol:        strings.TrimSpace(canonical),
		Price:         base,
		Change:        ChangeFromPercent(base, pct),
		ChangePercent: pct,
		Volume:        Float(float64(int64(volume))),
		LastUpdated:   time.Now().UTC(),
		Provenance:    ProvenanceFallback,
		Source:        f.Name(),
	}
	rec.Normalize()
	return rec
}
