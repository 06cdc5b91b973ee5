package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider fetches one symbol from one external market-data source
type Provider interface {
	Name() string
	AssetType() AssetType
	Fetch(ctx context.Context, symbol string) (*MarketRecord, error)
	HealthCheck(ctx context.Context) error
}

// BatchProvider is implemented by sources that can quote many symbols per request
type BatchProvider interface {
	Provider
	FetchBatch(ctx context.Context, symbols []string) (map[string]*MarketRecord, error)
}

// AssetType classifies a symbol as stock or crypto
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// Provenance tells the caller how much to trust a record
type Provenance string

const (
	ProvenanceReal     Provenance = "real"     // freshly fetched from a live provider
	ProvenanceCache    Provenance = "cache"    // served from the persistent cache
	ProvenanceMock     Provenance = "mock"     // mock pipeline, cacheable
	ProvenanceFallback Provenance = "fallback" // pure random, never cached
)

// Cacheable reports whether records with this provenance may be persisted
func (p Provenance) Cacheable() bool {
	return p == ProvenanceReal || p == ProvenanceMock
}

// PricePrecision is the number of decimals kept on stored prices
const PricePrecision = 4

// MarketRecord is the normalized unit of market data flowing through the pipeline
type MarketRecord struct {
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"changePercent"`
	Volume        *float64   `json:"volume,omitempty"`
	MarketCap     *float64   `json:"marketCap,omitempty"`
	AssetType     AssetType  `json:"assetType"`
	LastUpdated   time.Time  `json:"lastUpdated"`
	Provenance    Provenance `json:"provenance"`
	Source        string     `json:"source,omitempty"` // provider or generator name
}

// Clone returns a deep copy so cached records are never shared
func (r *MarketRecord) Clone() *MarketRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Volume != nil {
		v := *r.Volume
		c.Volume = &v
	}
	if r.MarketCap != nil {
		m := *r.MarketCap
		c.MarketCap = &m
	}
	return &c
}

// WithProvenance returns a copy tagged with p
func (r *MarketRecord) WithProvenance(p Provenance) *MarketRecord {
	c := r.Clone()
	c.Provenance = p
	return c
}

// Normalize enforces the storage invariants: rounded non-negative price,
// asset type from the static table and a production timestamp.
func (r *MarketRecord) Normalize() {
	if r.Price < 0 {
		r.Price = 0
	}
	r.Price = RoundPrice(r.Price)
	r.AssetType = ClassifyAsset(r.Symbol)
	if r.LastUpdated.IsZero() {
		r.LastUpdated = time.Now().UTC()
	}
}

// RoundPrice rounds half away from zero to PricePrecision decimals
func RoundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(PricePrecision).InexactFloat64()
}

// ChangePercentOf derives the relative move from price and absolute change
func ChangePercentOf(price, change float64) float64 {
	prev := price - change
	if prev == 0 {
		return 0
	}
	return change / prev * 100
}

// ChangeFromPercent derives the absolute move from price and relative change
func ChangeFromPercent(price, pct float64) float64 {
	if pct <= -100 {
		return 0
	}
	return price * pct / (100 + pct)
}

// Float returns a pointer to v; optional record fields use it
func Float(v float64) *float64 {
	return &v
}

// ErrorKind is the provider failure taxonomy the resolver dispatches on
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindHTTP        ErrorKind = "http_error"
	KindParse       ErrorKind = "parse_error"
	// KindCancelled means the caller gave up; it says nothing about the provider
	KindCancelled ErrorKind = "cancelled"
)

// ProviderError represents a classified provider failure
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Symbol   string
	Message  string
	Status   int // HTTP status when known
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s error for %s: %s (%v)", e.Provider, e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s error for %s: %s", e.Provider, e.Kind, e.Symbol, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can write errors.Is(err, ErrRateLimited)
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Provider == "" && t.Symbol == ""
}

// Sentinels for errors.Is
var (
	ErrTimeout     = &ProviderError{Kind: KindTimeout}
	ErrRateLimited = &ProviderError{Kind: KindRateLimited}
	ErrHTTP        = &ProviderError{Kind: KindHTTP}
	ErrParse       = &ProviderError{Kind: KindParse}
)

// Common error constructors
func NewTimeoutError(provider, symbol string, cause error) *ProviderError {
	return &ProviderError{Kind: KindTimeout, Provider: provider, Symbol: symbol, Message: "request timed out", Cause: cause}
}

func NewRateLimitError(provider, symbol, message string) *ProviderError {
	return &ProviderError{Kind: KindRateLimited, Provider: provider, Symbol: symbol, Message: message}
}

func NewHTTPError(provider, symbol string, status int, message string, cause error) *ProviderError {
	return &ProviderError{Kind: KindHTTP, Provider: provider, Symbol: symbol, Status: status, Message: message, Cause: cause}
}

func NewParseError(provider, symbol, message string, cause error) *ProviderError {
	return &ProviderError{Kind: KindParse, Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func NewCancelledError(provider, symbol string, cause error) *ProviderError {
	return &ProviderError{Kind: KindCancelled, Provider: provider, Symbol: symbol, Message: "request cancelled", Cause: cause}
}

// IsRateLimited reports whether err carries a rate-limit classification
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// KindOf extracts the error kind, treating unclassified errors as HTTP failures
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindHTTP
}
