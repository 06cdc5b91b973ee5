package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const coinGeckoBaseURL = "https://api.coingecko.com"

// CoinGeckoAdapter reads the simple price endpoint with 24h change and market cap
type CoinGeckoAdapter struct {
	httpProvider
}

func NewCoinGeckoAdapter(cfg HTTPConfig) *CoinGeckoAdapter {
	return &CoinGeckoAdapter{httpProvider: newHTTPProvider("coingecko", AssetCrypto, coinGeckoBaseURL, cfg)}
}

func (c *CoinGeckoAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	id := CoinID(symbol)
	quotes, err := c.FetchBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	rec, ok := quotes[id]
	if !ok {
		return nil, NewParseError(c.name, id, "coin missing from response", nil)
	}
	return rec, nil
}

func (c *CoinGeckoAdapter) FetchBatch(ctx context.Context, symbols []string) (map[string]*MarketRecord, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if id := CoinID(s); id != "" {
			ids = append(ids, id)
		}
	}
	label := strings.Join(ids, ",")
	if len(ids) == 0 {
		return nil, NewParseError(c.name, label, "empty symbol list", nil)
	}

	params := url.Values{
		"ids":                 {label},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
		"include_market_cap":  {"true"},
		"include_24hr_vol":    {"true"},
	}
	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"x-cg-demo-api-key": {c.apiKey}}
	}

	var resp map[string]map[string]*float64
	if err := c.getJSON(ctx, label, "/api/v3/simple/price", params, header, &resp); err != nil {
		return nil, err
	}

	results := make(map[string]*MarketRecord, len(resp))
	for id, fields := range resp {
		price := fields["usd"]
		if price == nil || *price <= 0 {
			continue
		}
		pct := 0.0
		if v := fields["usd_24h_change"]; v != nil {
			pct = *v
		}
		rec := c.record(id, *price, ChangeFromPercent(*price, pct), pct)
		if v := fields["usd_market_cap"]; v != nil {
			rec.MarketCap = positive(*v)
		}
		if v := fields["usd_24h_vol"]; v != nil {
			rec.Volume = positive(*v)
		}
		results[id] = rec
	}
	return results, nil
}

func (c *CoinGeckoAdapter) HealthCheck(ctx context.Context) error {
	_, err := c.Fetch(ctx, "bitcoin")
	return err
}
