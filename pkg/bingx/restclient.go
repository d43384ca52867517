package bingx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRESTClient builds a public market data client. ratePerSec <= 0 disables client side rate
// limiting.
func NewRESTClient(baseURL string, timeout time.Duration, ratePerSec float64, burst int) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// GetTicker fetches the 24h ticker of one perpetual swap symbol, e.g. "BTC-USDT".
func (c *RESTClient) GetTicker(ctx context.Context, symbol string) (TickerResponse, error) {
	data, err := c.get(ctx, tickerPath, url.Values{"symbol": {symbol}})
	if err != nil {
		return TickerResponse{}, err
	}

	var out TickerResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return TickerResponse{}, fmt.Errorf("decode ticker: %w", err)
	}
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return out, nil
}

// GetLatestKline fetches the most recent candle of symbol. interval must be in API form.
func (c *RESTClient) GetLatestKline(ctx context.Context, symbol, interval string) (KlineResponse, error) {
	data, err := c.get(ctx, klinesPath, url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {"1"},
	})
	if err != nil {
		return KlineResponse{}, err
	}

	// the endpoint answers with a list, or a bare object for some symbols
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []KlineResponse
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return KlineResponse{}, fmt.Errorf("decode klines: %w", err)
		}
		if len(list) == 0 {
			return KlineResponse{}, fmt.Errorf("no kline returned for %s %s", symbol, interval)
		}
		latest := list[0]
		for _, k := range list[1:] {
			if k.Time > latest.Time {
				latest = k
			}
		}
		return latest, nil
	}

	var one KlineResponse
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return KlineResponse{}, fmt.Errorf("decode kline: %w", err)
	}
	return one, nil
}

func (c *RESTClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("bingx http %d: %s", resp.StatusCode, body)
	}

	var raw Response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw.Code != 0 {
		return nil, &APIError{Code: raw.Code, Msg: raw.Msg}
	}
	return raw.Data, nil
}
