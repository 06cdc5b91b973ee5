package adapters

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// ProviderSettings configures one provider
type ProviderSettings struct {
	Enabled        *bool  `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	RequestDelayMs int    `yaml:"request_delay_ms"`
}

// ProvidersConfig holds the ordered provider chains and per-provider settings
type ProvidersConfig struct {
	Stocks   []string                    `yaml:"stocks"`
	Crypto   []string                    `yaml:"crypto"`
	Settings map[string]ProviderSettings `yaml:"settings"`
}

// DefaultRequestDelay is used for providers without a known free-tier budget
const DefaultRequestDelay = 3 * time.Second

type providerDef struct {
	asset     AssetType
	keyEnv    string
	keyNeeded bool
	delay     time.Duration
	construct func(HTTPConfig) Provider
}

// knownProviders maps provider names to their defaults. Delays follow each
// provider's free-tier request budget.
var knownProviders = map[string]providerDef{
	"yahoo": {asset: AssetStock, delay: 1 * time.Second,
		construct: func(c HTTPConfig) Provider { return NewYahooAdapter(c) }},
	"fmp": {asset: AssetStock, keyEnv: "FMP_API_KEY", keyNeeded: true, delay: 250 * time.Millisecond,
		construct: func(c HTTPConfig) Provider { return NewFMPAdapter(c) }},
	"finnhub": {asset: AssetStock, keyEnv: "FINNHUB_API_KEY", keyNeeded: true, delay: 1 * time.Second,
		construct: func(c HTTPConfig) Provider { return NewFinnhubAdapter(c) }},
	"iex": {asset: AssetStock, keyEnv: "IEX_API_TOKEN", keyNeeded: true, delay: 100 * time.Millisecond,
		construct: func(c HTTPConfig) Provider { return NewIEXAdapter(c) }},
	"alphavantage": {asset: AssetStock, keyEnv: "ALPHAVANTAGE_API_KEY", keyNeeded: true, delay: 12 * time.Second,
		construct: func(c HTTPConfig) Provider { return NewAlphaVantageAdapter(c) }},
	"polygon": {asset: AssetStock, keyEnv: "POLYGON_API_KEY", keyNeeded: true, delay: 12 * time.Second,
		construct: func(c HTTPConfig) Provider { return NewPolygonAdapter(c) }},
	"coingecko": {asset: AssetCrypto, keyEnv: "COINGECKO_API_KEY", delay: 1500 * time.Millisecond,
		construct: func(c HTTPConfig) Provider { return NewCoinGeckoAdapter(c) }},
	"coincap": {asset: AssetCrypto, keyEnv: "COINCAP_API_KEY", delay: 100 * time.Millisecond,
		construct: func(c HTTPConfig) Provider { return NewCoinCapAdapter(c) }},
}

// DefaultProvidersConfig returns the chains used when config leaves them empty
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Stocks:   []string{"yahoo", "fmp", "finnhub", "iex", "alphavantage", "polygon"},
		Crypto:   []string{"coingecko", "coincap"},
		Settings: map[string]ProviderSettings{},
	}
}

// KnownProvider reports whether name is a provider this package can build
func KnownProvider(name string) bool {
	_, ok := knownProviders[strings.ToLower(name)]
	return ok
}

// RequestDelay returns the minimum spacing between calls to one provider
func (c ProvidersConfig) RequestDelay(name string) time.Duration {
	name = strings.ToLower(name)
	if s, ok := c.Settings[name]; ok && s.RequestDelayMs > 0 {
		return time.Duration(s.RequestDelayMs) * time.Millisecond
	}
	if def, ok := knownProviders[name]; ok && def.delay > 0 {
		return def.delay
	}
	return DefaultRequestDelay
}

// Validate checks that every chain entry names a known provider of the right asset class
func (c ProvidersConfig) Validate() error {
	check := func(chain []string, asset AssetType) error {
		for _, name := range chain {
			def, ok := knownProviders[strings.ToLower(name)]
			if !ok {
				return fmt.Errorf("unknown provider %q", name)
			}
			if def.asset != asset {
				return fmt.Errorf("provider %q serves %s, not %s", name, def.asset, asset)
			}
		}
		return nil
	}
	if err := check(c.Stocks, AssetStock); err != nil {
		return fmt.Errorf("providers.stocks: %w", err)
	}
	if err := check(c.Crypto, AssetCrypto); err != nil {
		return fmt.Errorf("providers.crypto: %w", err)
	}
	return nil
}

// NewProviders builds the stock and crypto chains in configured order.
// Disabled providers, and providers whose required key is missing, are skipped.
func NewProviders(cfg ProvidersConfig, client *http.Client) (stocks, crypto []Provider) {
	return buildChain(cfg, cfg.Stocks, client), buildChain(cfg, cfg.Crypto, client)
}

func buildChain(cfg ProvidersConfig, names []string, client *http.Client) []Provider {
	var chain []Provider
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		def, ok := knownProviders[name]
		if !ok {
			observ.Log("provider_skipped", map[string]any{"provider": name, "reason": "unknown"})
			continue
		}
		settings := cfg.Settings[name]
		if settings.Enabled != nil && !*settings.Enabled {
			observ.Log("provider_skipped", map[string]any{"provider": name, "reason": "disabled"})
			continue
		}

		keyEnv := settings.APIKeyEnv
		if keyEnv == "" {
			keyEnv = def.keyEnv
		}
		var apiKey string
		if keyEnv != "" {
			apiKey = os.Getenv(keyEnv)
		}
		if def.keyNeeded && apiKey == "" {
			observ.Log("provider_skipped", map[string]any{
				"provider": name,
				"reason":   "missing_api_key",
				"key_env":  keyEnv,
			})
			continue
		}

		httpCfg := HTTPConfig{
			BaseURL: settings.BaseURL,
			APIKey:  apiKey,
			Client:  client,
		}
		if settings.TimeoutMs > 0 {
			httpCfg.Timeout = time.Duration(settings.TimeoutMs) * time.Millisecond
		}

		chain = append(chain, def.construct(httpCfg))
		observ.Log("provider_created", map[string]any{
			"provider":         name,
			"asset_type":       string(def.asset),
			"api_key":          maskAPIKey(apiKey),
			"request_delay_ms": cfg.RequestDelay(name).Milliseconds(),
		})
	}
	return chain
}

// maskAPIKey masks API key for logging
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
