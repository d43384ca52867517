package bingx

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"marketfeed/internal/market"

	"github.com/shopspring/decimal"
)

// Source adapts the REST client to the stream manager's feed interface.
type Source struct {
	client *RESTClient
}

func NewSource(client *RESTClient) *Source {
	return &Source{client: client}
}

func (s *Source) FetchTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	res, err := s.client.GetTicker(ctx, symbol)
	if err != nil {
		return market.Ticker{}, &market.FetchError{Op: "ticker", Symbol: symbol, Err: err}
	}
	price, err := decimal.NewFromString(res.LastPrice)
	if err != nil {
		return market.Ticker{}, &market.FetchError{Op: "ticker", Symbol: symbol, Err: fmt.Errorf("last price %q: %w", res.LastPrice, err)}
	}
	ts := res.Time
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return market.Ticker{Symbol: symbol, LastPrice: price, Timestamp: ts}, nil
}

// FetchKline returns the latest candle. The kline keeps the interval as requested so it lands in
// the series the feed was opened for.
func (s *Source) FetchKline(ctx context.Context, symbol, interval string) (market.Kline, error) {
	apiInterval, err := NormalizeInterval(interval)
	if err != nil {
		return market.Kline{}, &market.FetchError{Op: "kline", Symbol: symbol, Err: err}
	}
	res, err := s.client.GetLatestKline(ctx, symbol, apiInterval)
	if err != nil {
		return market.Kline{}, &market.FetchError{Op: "kline", Symbol: symbol, Err: err}
	}
	k, err := toKline(symbol, interval, res)
	if err != nil {
		return market.Kline{}, &market.FetchError{Op: "kline", Symbol: symbol, Err: err}
	}
	return k, nil
}

// SourceURL reports the REST endpoint a feed polls.
func (s *Source) SourceURL(spec market.StreamSpec) string {
	q := url.Values{"symbol": {spec.Symbol}}
	path := tickerPath
	if spec.Kind == market.KindKline {
		path = klinesPath
		if iv, err := NormalizeInterval(spec.Interval); err == nil {
			q.Set("interval", iv)
		}
	}
	return s.client.BaseURL() + path + "?" + q.Encode()
}

func toKline(symbol, interval string, r KlineResponse) (market.Kline, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return market.Kline{}, err
	}
	k := market.Kline{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  r.Time,
		CloseTime: r.Time + d.Milliseconds() - 1,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", r.Open, &k.Open},
		{"high", r.High, &k.High},
		{"low", r.Low, &k.Low},
		{"close", r.Close, &k.Close},
		{"volume", r.Volume, &k.Volume},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return market.Kline{}, fmt.Errorf("%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return k, nil
}
