package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/store"
)

// MockProvider is a testify mock of adapters.Provider
type MockProvider struct {
	mock.Mock
	name  string
	asset adapters.AssetType
}

func newMockProvider(name string, asset adapters.AssetType) *MockProvider {
	return &MockProvider{name: name, asset: asset}
}

func (m *MockProvider) Name() string                  { return m.name }
func (m *MockProvider) AssetType() adapters.AssetType { return m.asset }

func (m *MockProvider) Fetch(ctx context.Context, symbol string) (*adapters.MarketRecord, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*adapters.MarketRecord), args.Error(1)
}

func (m *MockProvider) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockBatchProvider adds FetchBatch to MockProvider
type MockBatchProvider struct {
	MockProvider
}

func newMockBatchProvider(name string, asset adapters.AssetType) *MockBatchProvider {
	return &MockBatchProvider{MockProvider: MockProvider{name: name, asset: asset}}
}

func (m *MockBatchProvider) FetchBatch(ctx context.Context, symbols []string) (map[string]*adapters.MarketRecord, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*adapters.MarketRecord), args.Error(1)
}

// failingGenerator is a mock generator that always errors
type failingGenerator struct{}

func (failingGenerator) Name() string { return "broken" }
func (failingGenerator) Generate(string) (*adapters.MarketRecord, error) {
	return nil, errors.New("generator unavailable")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// quote builds a provider response the way an adapter would
func quote(provider, symbol string, price, change float64) *adapters.MarketRecord {
	rec := &adapters.MarketRecord{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: adapters.ChangePercentOf(price, change),
		Provenance:    adapters.ProvenanceReal,
		Source:        provider,
	}
	rec.Normalize()
	return rec
}

type testEnv struct {
	svc    *Service
	store  store.Store
	clock  *fakeClock
	sleeps []time.Duration
}

// newTestEnv builds a service with no throttle delay, a fake clock and
// recorded backoff sleeps
func newTestEnv(t *testing.T, opts Options, stocks, crypto []adapters.Provider) *testEnv {
	t.Helper()

	env := &testEnv{store: store.NewMemory(), clock: newFakeClock()}
	env.svc = NewService(opts, Deps{
		Store:     env.store,
		Stocks:    stocks,
		Crypto:    crypto,
		Throttles: NewThrottles(func(string) time.Duration { return 0 }),
		Mock:      adapters.NewMockGenerator(1),
		Fallback:  adapters.NewFallbackGenerator(1),
	})
	env.svc.cache.now = env.clock.Now
	env.svc.tracker.now = env.clock.Now

	var mu sync.Mutex
	env.svc.resolver.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		env.sleeps = append(env.sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return env
}
