package adapters

import (
	"context"
	"net/url"
)

const polygonBaseURL = "https://api.polygon.io"

// PolygonAdapter reads the previous-day aggregate, which the free tier allows
type PolygonAdapter struct {
	httpProvider
}

func NewPolygonAdapter(cfg HTTPConfig) *PolygonAdapter {
	return &PolygonAdapter{httpProvider: newHTTPProvider("polygon", AssetStock, polygonBaseURL, cfg)}
}

type polygonPrevResponse struct {
	Status  string `json:"status"`
	Results []struct {
		T string  `json:"T"` // Ticker
		C float64 `json:"c"` // Close
		O float64 `json:"o"` // Open
		V float64 `json:"v"` // Volume
	} `json:"results"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (p *PolygonAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewParseError(p.name, symbol, "empty symbol", nil)
	}

	var response polygonPrevResponse
	path := "/v2/aggs/ticker/" + url.PathEscape(symbol) + "/prev"
	params := url.Values{"adjusted": {"true"}, "apiKey": {p.apiKey}}
	if err := p.getJSON(ctx, symbol, path, params, nil, &response); err != nil {
		return nil, err
	}

	if response.Status != "OK" && response.Status != "DELAYED" {
		msg := response.Error
		if msg == "" {
			msg = response.Message
		}
		if msg == "" {
			msg = "non-OK status: " + response.Status
		}
		return nil, NewParseError(p.name, symbol, msg, nil)
	}
	if len(response.Results) == 0 {
		return nil, NewParseError(p.name, symbol, "no aggregate returned", nil)
	}

	bar := response.Results[0]
	if bar.T != "" && normalizeSymbol(bar.T) != symbol {
		return nil, NewParseError(p.name, symbol, "symbol mismatch in response", nil)
	}
	if bar.C <= 0 {
		return nil, NewParseError(p.name, symbol, "invalid price data", nil)
	}

	change := 0.0
	if bar.O > 0 {
		change = bar.C - bar.O
	}
	rec := p.record(symbol, bar.C, change, ChangePercentOf(bar.C, change))
	rec.Volume = positive(bar.V)
	return rec, nil
}

func (p *PolygonAdapter) HealthCheck(ctx context.Context) error {
	_, err := p.Fetch(ctx, "AAPL")
	return err
}
