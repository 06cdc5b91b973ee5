package adapters

import (
	"context"
	"net/url"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooAdapter reads the free, keyless chart endpoint
type YahooAdapter struct {
	httpProvider
}

func NewYahooAdapter(cfg HTTPConfig) *YahooAdapter {
	return &YahooAdapter{httpProvider: newHTTPProvider("yahoo", AssetStock, yahooBaseURL, cfg)}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol              string  `json:"symbol"`
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				ChartPreviousClose  float64 `json:"chartPreviousClose"`
				PreviousClose       float64 `json:"previousClose"`
				RegularMarketVolume float64 `json:"regularMarketVolume"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YahooAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewParseError(y.name, symbol, "empty symbol", nil)
	}

	var resp yahooChartResponse
	params := url.Values{"interval": {"1d"}, "range": {"1d"}}
	if err := y.getJSON(ctx, symbol, "/v8/finance/chart/"+url.PathEscape(dashedSymbol(symbol)), params, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Chart.Error != nil {
		return nil, NewParseError(y.name, symbol, resp.Chart.Error.Code+": "+resp.Chart.Error.Description, nil)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, NewParseError(y.name, symbol, "no chart result returned", nil)
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, NewParseError(y.name, symbol, "missing regularMarketPrice", nil)
	}

	prev := meta.ChartPreviousClose
	if prev <= 0 {
		prev = meta.PreviousClose
	}
	change := 0.0
	if prev > 0 {
		change = meta.RegularMarketPrice - prev
	}

	rec := y.record(symbol, meta.RegularMarketPrice, change, ChangePercentOf(meta.RegularMarketPrice, change))
	rec.Volume = positive(meta.RegularMarketVolume)
	return rec, nil
}

func (y *YahooAdapter) HealthCheck(ctx context.Context) error {
	_, err := y.Fetch(ctx, "AAPL")
	return err
}
