package adapters

import (
	"context"
	"net/url"
	"strings"
)

const iexSandboxBaseURL = "https://sandbox.iexapis.com"

// IEXAdapter reads the sandbox market batch endpoint
type IEXAdapter struct {
	httpProvider
}

func NewIEXAdapter(cfg HTTPConfig) *IEXAdapter {
	return &IEXAdapter{httpProvider: newHTTPProvider("iex", AssetStock, iexSandboxBaseURL, cfg)}
}

type iexBatchEntry struct {
	Quote *struct {
		Symbol        string   `json:"symbol"`
		LatestPrice   float64  `json:"latestPrice"`
		Change        float64  `json:"change"`
		ChangePercent *float64 `json:"changePercent"` // fraction, 0.0123 = 1.23%
		LatestVolume  *float64 `json:"latestVolume"`
		MarketCap     *float64 `json:"marketCap"`
	} `json:"quote"`
}

func (i *IEXAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	symbol = normalizeSymbol(symbol)
	quotes, err := i.FetchBatch(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	rec, ok := quotes[symbol]
	if !ok {
		return nil, NewParseError(i.name, symbol, "symbol missing from batch response", nil)
	}
	return rec, nil
}

func (i *IEXAdapter) FetchBatch(ctx context.Context, symbols []string) (map[string]*MarketRecord, error) {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = normalizeSymbol(s); s != "" {
			normalized = append(normalized, s)
		}
	}
	label := strings.Join(normalized, ",")
	if len(normalized) == 0 {
		return nil, NewParseError(i.name, label, "empty symbol list", nil)
	}

	var resp map[string]iexBatchEntry
	params := url.Values{
		"symbols": {label},
		"types":   {"quote"},
		"token":   {i.apiKey},
	}
	if err := i.getJSON(ctx, label, "/stable/stock/market/batch", params, nil, &resp); err != nil {
		return nil, err
	}

	results := make(map[string]*MarketRecord, len(resp))
	for key, entry := range resp {
		if entry.Quote == nil || entry.Quote.LatestPrice <= 0 {
			continue
		}
		q := entry.Quote
		sym := normalizeSymbol(key)
		pct := ChangePercentOf(q.LatestPrice, q.Change)
		if q.ChangePercent != nil {
			pct = *q.ChangePercent * 100
		}
		rec := i.record(sym, q.LatestPrice, q.Change, pct)
		if q.LatestVolume != nil {
			rec.Volume = positive(*q.LatestVolume)
		}
		if q.MarketCap != nil {
			rec.MarketCap = positive(*q.MarketCap)
		}
		results[sym] = rec
	}
	return results, nil
}

func (i *IEXAdapter) HealthCheck(ctx context.Context) error {
	_, err := i.Fetch(ctx, "AAPL")
	return err
}
