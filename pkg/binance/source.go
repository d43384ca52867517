package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketfeed/internal/market"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://fapi.binance.com"

// Source polls Binance USDⓈ-M futures public market data. Symbols use the "BTC-USDT" form on the
// way in and out; the dash is dropped on the wire.
type Source struct {
	client *futures.Client
}

func NewSource(baseURL string, timeout time.Duration) *Source {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	} else {
		client.BaseURL = DefaultBaseURL
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Source{client: client}
}

func (s *Source) FetchTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	prices, err := s.client.NewListPricesService().Symbol(wireSymbol(symbol)).Do(ctx)
	if err != nil {
		return market.Ticker{}, &market.FetchError{Op: "ticker", Symbol: symbol, Err: err}
	}
	if len(prices) == 0 {
		return market.Ticker{}, &market.FetchError{Op: "ticker", Symbol: symbol, Err: fmt.Errorf("empty price list")}
	}
	p := prices[0]
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return market.Ticker{}, &market.FetchError{Op: "ticker", Symbol: symbol, Err: fmt.Errorf("price %q: %w", p.Price, err)}
	}
	// the price endpoint carries no timestamp; stamp the observation locally
	return market.Ticker{Symbol: symbol, LastPrice: price, Timestamp: time.Now().UnixMilli()}, nil
}

func (s *Source) FetchKline(ctx context.Context, symbol, interval string) (market.Kline, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(wireSymbol(symbol)).
		Interval(wireInterval(interval)).
		Limit(1).
		Do(ctx)
	if err != nil {
		return market.Kline{}, &market.FetchError{Op: "kline", Symbol: symbol, Err: err}
	}
	if len(klines) == 0 {
		return market.Kline{}, &market.FetchError{Op: "kline", Symbol: symbol, Err: fmt.Errorf("no kline returned")}
	}
	raw := klines[len(klines)-1]

	k := market.Kline{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  raw.OpenTime,
		CloseTime: raw.CloseTime,
	}
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{raw.Open, &k.Open},
		{raw.High, &k.High},
		{raw.Low, &k.Low},
		{raw.Close, &k.Close},
		{raw.Volume, &k.Volume},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return market.Kline{}, &market.FetchError{Op: "kline", Symbol: symbol, Err: err}
		}
		*f.dst = v
	}
	return k, nil
}

// SourceURL reports the REST endpoint a feed polls.
func (s *Source) SourceURL(spec market.StreamSpec) string {
	if spec.Kind == market.KindKline {
		return fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s", s.client.BaseURL, wireSymbol(spec.Symbol), wireInterval(spec.Interval))
	}
	return fmt.Sprintf("%s/fapi/v2/ticker/price?symbol=%s", s.client.BaseURL, wireSymbol(spec.Symbol))
}

func wireSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "-", ""))
}

// wireInterval accepts "1min" style intervals as well as Binance's own.
func wireInterval(interval string) string {
	s := strings.TrimSpace(interval)
	if strings.HasSuffix(s, "min") {
		s = strings.TrimSuffix(s, "in")
	}
	return s
}
