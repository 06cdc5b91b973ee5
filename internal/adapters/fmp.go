package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
)

const fmpBaseURL = "https://financialmodelingprep.com"

// FMPAdapter reads the Financial Modeling Prep fundamentals quote endpoint.
// The endpoint accepts comma separated symbols, so it also serves batches.
type FMPAdapter struct {
	httpProvider
}

func NewFMPAdapter(cfg HTTPConfig) *FMPAdapter {
	return &FMPAdapter{httpProvider: newHTTPProvider("fmp", AssetStock, fmpBaseURL, cfg)}
}

type fmpQuote struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	Change            float64 `json:"change"`
	ChangesPercentage float64 `json:"changesPercentage"`
	Volume            float64 `json:"volume"`
	MarketCap         float64 `json:"marketCap"`
}

func (f *FMPAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	symbol = normalizeSymbol(symbol)
	quotes, err := f.FetchBatch(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	rec, ok := quotes[symbol]
	if !ok {
		return nil, NewParseError(f.name, symbol, "no quote data returned", nil)
	}
	return rec, nil
}

func (f *FMPAdapter) FetchBatch(ctx context.Context, symbols []string) (map[string]*MarketRecord, error) {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = normalizeSymbol(s); s != "" {
			normalized = append(normalized, s)
		}
	}
	label := strings.Join(normalized, ",")
	if len(normalized) == 0 {
		return nil, NewParseError(f.name, label, "empty symbol list", nil)
	}

	var raw json.RawMessage
	path := "/api/v3/quote/" + url.PathEscape(label)
	if err := f.getJSON(ctx, label, path, url.Values{"apikey": {f.apiKey}}, nil, &raw); err != nil {
		return nil, err
	}

	// Errors come back as an object, quotes as an array
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var apiErr struct {
			ErrorMessage string `json:"Error Message"`
		}
		_ = json.Unmarshal(trimmed, &apiErr)
		return nil, NewParseError(f.name, label, "provider error: "+apiErr.ErrorMessage, nil)
	}

	var quotes []fmpQuote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return nil, NewParseError(f.name, label, "unexpected quote shape", err)
	}

	results := make(map[string]*MarketRecord, len(quotes))
	for _, q := range quotes {
		sym := normalizeSymbol(q.Symbol)
		if sym == "" || q.Price <= 0 {
			continue
		}
		pct := q.ChangesPercentage
		if pct == 0 && q.Change != 0 {
			pct = ChangePercentOf(q.Price, q.Change)
		}
		rec := f.record(sym, q.Price, q.Change, pct)
		rec.Volume = positive(q.Volume)
		rec.MarketCap = positive(q.MarketCap)
		results[sym] = rec
	}
	return results, nil
}

func (f *FMPAdapter) HealthCheck(ctx context.Context) error {
	_, err := f.Fetch(ctx, "AAPL")
	return err
}
