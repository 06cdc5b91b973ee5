package adapters

import (
	"context"
	"net/url"
)

const finnhubBaseURL = "https://finnhub.io"

// FinnhubAdapter reads the token-authenticated quote endpoint
type FinnhubAdapter struct {
	httpProvider
}

func NewFinnhubAdapter(cfg HTTPConfig) *FinnhubAdapter {
	return &FinnhubAdapter{httpProvider: newHTTPProvider("finnhub", AssetStock, finnhubBaseURL, cfg)}
}

type finnhubQuote struct {
	Current       float64  `json:"c"`
	Change        *float64 `json:"d"`
	ChangePercent *float64 `json:"dp"`
	PrevClose     float64  `json:"pc"`
	Timestamp     int64    `json:"t"`
}

func (f *FinnhubAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewParseError(f.name, symbol, "empty symbol", nil)
	}

	var q finnhubQuote
	params := url.Values{"symbol": {symbol}, "token": {f.apiKey}}
	if err := f.getJSON(ctx, symbol, "/api/v1/quote", params, nil, &q); err != nil {
		return nil, err
	}

	// Unknown symbols come back as an all-zero quote
	if q.Current <= 0 {
		return nil, NewParseError(f.name, symbol, "no quote data returned", nil)
	}

	change := 0.0
	switch {
	case q.Change != nil:
		change = *q.Change
	case q.PrevClose > 0:
		change = q.Current - q.PrevClose
	}
	pct := ChangePercentOf(q.Current, change)
	if q.ChangePercent != nil {
		pct = *q.ChangePercent
	}

	return f.record(symbol, q.Current, change, pct), nil
}

func (f *FinnhubAdapter) HealthCheck(ctx context.Context) error {
	_, err := f.Fetch(ctx, "AAPL")
	return err
}
