package adapters

import (
	"math/rand"
	"sync"
	"time"
)

// Fundamentals is a fabricated fundamentals snapshot. It is generated once per
// symbol and persisted, so repeated reads stay stable between refreshes.
type Fundamentals struct {
	Symbol        string    `json:"symbol"`
	PERatio       float64   `json:"peRatio"`
	EPS           float64   `json:"eps"`
	RevenueGrowth float64   `json:"revenueGrowth"` // percent, year over year
	DebtToEquity  float64   `json:"debtToEquity"`
	DividendYield float64   `json:"dividendYield"` // percent
	GeneratedAt   time.Time `json:"generatedAt"`
}

// FundamentalsGenerator fabricates plausible fundamentals
type FundamentalsGenerator struct {
	mu     sync.Mutex
	random *rand.Rand
}

func NewFundamentalsGenerator(seed int64) *FundamentalsGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FundamentalsGenerator{random: rand.New(rand.NewSource(seed))}
}

func (g *FundamentalsGenerator) Generate(symbol string) Fundamentals {
	g.mu.Lock()
	defer g.mu.Unlock()

	pe := 8 + g.random.Float64()*42 // 8-50
	f := Fundamentals{
		Symbol:        CanonicalSymbol(symbol),
		PERatio:       RoundPrice(pe),
		EPS:           RoundPrice(0.5 + g.random.Float64()*12),
		RevenueGrowth: RoundPrice(-10 + g.random.Float64()*50),
		DebtToEquity:  RoundPrice(g.random.Float64() * 2.5),
		DividendYield: RoundPrice(g.random.Float64() * 4),
		GeneratedAt:   time.Now().UTC(),
	}
	if ClassifyAsset(symbol) == AssetCrypto {
		// Coins have no earnings or balance sheet
		f.PERatio, f.EPS, f.DebtToEquity, f.DividendYield = 0, 0, 0, 0
	}
	return f
}
