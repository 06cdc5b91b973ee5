package adapters

import (
	"regexp"
	"strings"
)

// cryptoMarkers are matched as substrings of the upper-cased symbol.
// Anything that matches none of them is treated as a stock ticker.
var cryptoMarkers = []string{
	"BTC", "BITCOIN",
	"ETH", "ETHEREUM",
	"SOL", "SOLANA",
	"ADA", "CARDANO",
	"DOGE",
	"XRP", "RIPPLE",
	"DOT", "POLKADOT",
	"LTC", "LITECOIN",
	"BNB", "BINANCE",
	"MATIC",
	"AVAX", "AVALANCHE",
	"LINK", "CHAINLINK",
	"SHIB",
	"USDT", "TETHER",
}

// coinIDs maps common tickers to the coin-id convention used by crypto providers
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"LTC":   "litecoin",
	"BNB":   "binancecoin",
	"MATIC": "matic-network",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"SHIB":  "shiba-inu",
	"USDT":  "tether",
}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,31}$`)

// ClassifyAsset derives the asset type from the static crypto table
func ClassifyAsset(symbol string) AssetType {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if upper == "" {
		return AssetStock
	}
	for _, marker := range cryptoMarkers {
		if strings.Contains(upper, marker) {
			return AssetCrypto
		}
	}
	return AssetStock
}

// CoinID converts a crypto symbol to the lower-case coin-id convention
func CoinID(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range []string{"-USDT", "-USD", "USDT"} {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	if id, ok := coinIDs[s]; ok {
		return id
	}
	return strings.ToLower(s)
}

// CanonicalSymbol returns the cache and routing key for a requested symbol:
// coin ids for crypto, upper-case tickers for stocks.
func CanonicalSymbol(symbol string) string {
	trimmed := strings.TrimSpace(symbol)
	if ClassifyAsset(trimmed) == AssetCrypto {
		return CoinID(trimmed)
	}
	return normalizeSymbol(trimmed)
}

// ValidSymbol reports whether the symbol is shaped like a ticker or coin id
func ValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(strings.TrimSpace(symbol))
}

// normalizeSymbol normalizes stock ticker format
func normalizeSymbol(symbol string) string {
	if symbol == "" {
		return ""
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	switch {
	case strings.Contains(symbol, "BRK-A"):
		return "BRK.A"
	case strings.Contains(symbol, "BRK-B"):
		return "BRK.B"
	case strings.HasSuffix(symbol, ".US"):
		return strings.TrimSuffix(symbol, ".US")
	default:
		return symbol
	}
}

// dashedSymbol converts class-share dots to the dash form some providers use
func dashedSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, ".", "-")
}
