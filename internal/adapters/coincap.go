package adapters

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

const coinCapBaseURL = "https://api.coincap.io"

// CoinCapAdapter reads single assets; CoinCap encodes numbers as strings
type CoinCapAdapter struct {
	httpProvider
}

func NewCoinCapAdapter(cfg HTTPConfig) *CoinCapAdapter {
	return &CoinCapAdapter{httpProvider: newHTTPProvider("coincap", AssetCrypto, coinCapBaseURL, cfg)}
}

type coinCapAssetResponse struct {
	Data *struct {
		ID                string  `json:"id"`
		PriceUsd          string  `json:"priceUsd"`
		ChangePercent24Hr *string `json:"changePercent24Hr"`
		MarketCapUsd      *string `json:"marketCapUsd"`
		VolumeUsd24Hr     *string `json:"volumeUsd24Hr"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *CoinCapAdapter) Fetch(ctx context.Context, symbol string) (*MarketRecord, error) {
	id := CoinID(symbol)
	if id == "" {
		return nil, NewParseError(c.name, id, "empty symbol", nil)
	}

	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"Authorization": {"Bearer " + c.apiKey}}
	}

	var resp coinCapAssetResponse
	if err := c.getJSON(ctx, id, "/v2/assets/"+url.PathEscape(id), nil, header, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, NewParseError(c.name, id, resp.Error, nil)
	}
	if resp.Data == nil {
		return nil, NewParseError(c.name, id, "no asset data returned", nil)
	}

	price, err := decimal.NewFromString(resp.Data.PriceUsd)
	if err != nil || !price.IsPositive() {
		return nil, NewParseError(c.name, id, "invalid priceUsd: "+resp.Data.PriceUsd, err)
	}
	p := price.InexactFloat64()
	pct := optionalDecimal(resp.Data.ChangePercent24Hr)

	rec := c.record(id, p, ChangeFromPercent(p, pct), pct)
	rec.MarketCap = positive(optionalDecimal(resp.Data.MarketCapUsd))
	rec.Volume = positive(optionalDecimal(resp.Data.VolumeUsd24Hr))
	return rec, nil
}

func (c *CoinCapAdapter) HealthCheck(ctx context.Context) error {
	_, err := c.Fetch(ctx, "bitcoin")
	return err
}

func optionalDecimal(s *string) float64 {
	if s == nil {
		return 0
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
