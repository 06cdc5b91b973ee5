package adapters

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Generator produces synthetic records when live providers cannot
type Generator interface {
	Name() string
	Generate(symbol string) (*MarketRecord, error)
}

// mockProfile shapes the numbers generated for one symbol
type mockProfile struct {
	BasePrice  float64
	Volatility float64 // daily volatility as decimal (0.02 = 2%)
	Volume     float64
	Supply     float64 // shares or coins outstanding, for market cap
}

// MockGenerator is the "quality" fallback: every symbol keeps a stable base
// price and volume shape, only the daily move is random.
type MockGenerator struct {
	mu       sync.Mutex
	random   *rand.Rand
	profiles map[string]mockProfile
}

// NewMockGenerator creates a mock generator; seed 0 uses the clock
func NewMockGenerator(seed int64) *MockGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockGenerator{
		random: rand.New(rand.NewSource(seed)),
		profiles: map[string]mockProfile{
			"AAPL":        {BasePrice: 175.50, Volatility: 0.020, Volume: 55_000_000, Supply: 15.5e9},
			"MSFT":        {BasePrice: 380.25, Volatility: 0.018, Volume: 22_000_000, Supply: 7.43e9},
			"GOOGL":       {BasePrice: 140.80, Volatility: 0.022, Volume: 25_000_000, Supply: 12.3e9},
			"AMZN":        {BasePrice: 155.30, Volatility: 0.025, Volume: 45_000_000, Supply: 10.4e9},
			"TSLA":        {BasePrice: 245.60, Volatility: 0.040, Volume: 110_000_000, Supply: 3.18e9},
			"NVDA":        {BasePrice: 480.10, Volatility: 0.035, Volume: 40_000_000, Supply: 2.46e9},
			"META":        {BasePrice: 350.40, Volatility: 0.028, Volume: 18_000_000, Supply: 2.57e9},
			"bitcoin":     {BasePrice: 45000, Volatility: 0.045, Volume: 25e9, Supply: 19.6e6},
			"ethereum":    {BasePrice: 2500, Volatility: 0.055, Volume: 12e9, Supply: 120e6},
			"solana":      {BasePrice: 100, Volatility: 0.080, Volume: 2.5e9, Supply: 430e6},
			"cardano":     {BasePrice: 0.55, Volatility: 0.070, Volume: 400e6, Supply: 35e9},
			"dogecoin":    {BasePrice: 0.085, Volatility: 0.090, Volume: 600e6, Supply: 142e9},
			"ripple":      {BasePrice: 0.60, Volatility: 0.065, Volume: 1.2e9, Supply: 54e9},
			"binancecoin": {BasePrice: 310, Volatility: 0.050, Volume: 900e6, Supply: 150e6},
		},
	}
}

func (m *MockGenerator) Name() string {
	return "mock"
}

// Generate returns a mock-provenance record. It fails only for symbols that
// are empty or not shaped like a ticker or coin id.
func (m *MockGenerator) Generate(symbol string) (*MarketRecord, error) {
	canonical := CanonicalSymbol(symbol)
	if !ValidSymbol(canonical) {
		return nil, fmt.Errorf("mock generator: invalid symbol %q", symbol)
	}

	profile := m.profileFor(canonical)

	m.mu.Lock()
	move := m.random.NormFloat64() * profile.Volatility
	volumeVariation := 0.7 + m.random.Float64()*0.6 // 70%-130% of base
	m.mu.Unlock()

	// Clamp to three standard deviations so mock moves stay plausible
	limit := 3 * profile.Volatility
	move = math.Max(-limit, math.Min(limit, move))

	price := profile.BasePrice * (1 + move)
	change := price - profile.BasePrice

	rec := &MarketRecord{
		Symbol:        canonical,
		Price:         price,
		Change:        change,
		ChangePercent: move * 100,
		Volume:        Float(math.Round(profile.Volume * volumeVariation)),
		MarketCap:     Float(math.Round(price * profile.Supply)),
		LastUpdated:   time.Now().UTC(),
		Provenance:    ProvenanceMock,
		Source:        m.Name(),
	}
	rec.Normalize()
	return rec, nil
}

// profileFor returns the known profile or derives a stable one from the symbol hash
func (m *MockGenerator) profileFor(symbol string) mockProfile {
	if p, ok := m.profiles[symbol]; ok {
		return p
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	seed := h.Sum64()
	unit := float64(seed%10_000) / 10_000 // stable in [0,1)

	if ClassifyAsset(symbol) == AssetCrypto {
		return mockProfile{
			BasePrice:  0.1 + unit*99.9,
			Volatility: 0.06,
			Volume:     50e6 + unit*500e6,
			Supply:     1e9,
		}
	}
	return mockProfile{
		BasePrice:  10 + unit*500,
		Volatility: 0.025,
		Volume:     500_000 + unit*20_000_000,
		Supply:     100e6 + unit*2e9,
	}
}
