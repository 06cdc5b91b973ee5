package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every provider call
	DefaultTimeout = 8 * time.Second

	maxBodyBytes = 1 << 20
	userAgent    = "marketfeed/1.0 (+https://github.com/Rajchodisetti/marketfeed)"
)

// rateLimitMarkers are payload fragments providers use instead of (or in
// addition to) a 429 status.
var rateLimitMarkers = [][]byte{
	[]byte("rate limit"),
	[]byte("api call frequency"),
	[]byte("limit reach"),
	[]byte("too many requests"),
}

// HTTPConfig holds the connection settings shared by all HTTP adapters
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// httpProvider carries the plumbing every HTTP adapter embeds
type httpProvider struct {
	name    string
	asset   AssetType
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func newHTTPProvider(name string, asset AssetType, defaultBaseURL string, cfg HTTPConfig) httpProvider {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return httpProvider{
		name:    name,
		asset:   asset,
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  client,
	}
}

func (h *httpProvider) Name() string {
	return h.name
}

func (h *httpProvider) AssetType() AssetType {
	return h.asset
}

// getJSON performs a GET with the provider timeout and decodes the body into
// out, classifying every failure into the provider error taxonomy.
func (h *httpProvider) getJSON(ctx context.Context, symbol, path string, params url.Values, header http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	requestURL := h.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return NewHTTPError(h.name, symbol, 0, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return h.transportError(ctx, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return h.transportError(ctx, symbol, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return NewRateLimitError(h.name, symbol, "HTTP 429")
	}
	if hasRateLimitMarker(body) {
		return NewRateLimitError(h.name, symbol, snippet(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewHTTPError(h.name, symbol, resp.StatusCode, http.StatusText(resp.StatusCode)+": "+snippet(body), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewParseError(h.name, symbol, "failed to parse response", err)
	}
	return nil
}

func (h *httpProvider) transportError(ctx context.Context, symbol string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return NewCancelledError(h.name, symbol, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError(h.name, symbol, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(h.name, symbol, err)
	}
	return NewHTTPError(h.name, symbol, 0, "request failed", err)
}

func hasRateLimitMarker(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range rateLimitMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func (h *httpProvider) record(symbol string, price, change, pct float64) *MarketRecord {
	rec := &MarketRecord{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		LastUpdated:   time.Now().UTC(),
		Provenance:    ProvenanceReal,
		Source:        h.name,
	}
	rec.Normalize()
	return rec
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return Float(v)
}
