package adapters

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantageAdapter reads the GLOBAL_QUOTE function
type AlphaVantageAdapter struct {
	httpProvider
}

func NewAlphaVantageAdapter(cfg HTTPConfig) *AlphaVantageAdapter {
	return &AlphaVantageAdapter{httpProvider: newHTTPProvider("alphavantage", AssetStock, alphaVantageBaseURL, cfg)}
}

type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	ErrorMessage string            `json:"Error Message"`
	Information  string            `json:"Information"`
	Note         string            `json:"Note"`
}

func (av *AlphaVantageAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewParseError(av.name, symbol, "empty symbol", nil)
	}

	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {av.apiKey},
	}

	var response globalQuoteResponse
	if err := av.getJSON(ctx, symbol, "/query", params, nil, &response); err != nil {
		return nil, err
	}

	if response.ErrorMessage != "" {
		return nil, NewParseError(av.name, symbol, response.ErrorMessage, nil)
	}
	// Information and Note carry the call-frequency notices
	if response.Information != "" {
		return nil, NewRateLimitError(av.name, symbol, response.Information)
	}
	if response.Note != "" {
		return nil, NewRateLimitError(av.name, symbol, response.Note)
	}

	quote := response.GlobalQuote
	if len(quote) == 0 {
		return nil, NewParseError(av.name, symbol, "no quote data returned", nil)
	}

	// Alpha Vantage uses numbered string keys
	price, err := decimal.NewFromString(quote["05. price"])
	if err != nil || !price.IsPositive() {
		return nil, NewParseError(av.name, symbol, "invalid price: "+quote["05. price"], err)
	}
	change, _ := decimal.NewFromString(quote["09. change"])
	p := price.InexactFloat64()
	c := change.InexactFloat64()

	pct := ChangePercentOf(p, c)
	if raw := strings.TrimSuffix(strings.TrimSpace(quote["10. change percent"]), "%"); raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			pct = d.InexactFloat64()
		}
	}

	rec := av.record(symbol, p, c, pct)
	if vol, err := decimal.NewFromString(quote["06. volume"]); err == nil {
		rec.Volume = positive(vol.InexactFloat64())
	}
	return rec, nil
}

func (av *AlphaVantageAdapter) HealthCheck(ctx context.Context) error {
	_, err := av.Fetch(ctx, "AAPL")
	return err
}
