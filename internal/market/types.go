package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrSymbolRequired   = errors.New("symbol is required")
	ErrIntervalRequired = errors.New("interval is required for kline streams")
)

// StreamKind identifies what a feed produces.
type StreamKind int

const (
	KindTicker StreamKind = iota
	KindKline
)

func (k StreamKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindKline:
		return "kline"
	default:
		return "unknown"
	}
}

// MarshalText lets StreamKind travel as "ticker"/"kline" in JSON and config.
func (k StreamKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *StreamKind) UnmarshalText(b []byte) error {
	parsed, err := ParseStreamKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseStreamKind parses "ticker" or "kline" (case-insensitive).
func ParseStreamKind(s string) (StreamKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ticker":
		return KindTicker, nil
	case "kline":
		return KindKline, nil
	default:
		return 0, fmt.Errorf("unknown stream kind: %q", s)
	}
}

// StreamSpec is the identity of a desired or live feed.
type StreamSpec struct {
	Symbol   string     `json:"symbol"`
	Kind     StreamKind `json:"kind"`
	Interval string     `json:"interval,omitempty"` // required for klines, ignored for tickers
}

// Normalize trims the fields and drops the interval of ticker specs.
func (s StreamSpec) Normalize() StreamSpec {
	s.Symbol = strings.TrimSpace(s.Symbol)
	s.Interval = strings.TrimSpace(s.Interval)
	if s.Kind == KindTicker {
		s.Interval = ""
	}
	return s
}

func (s StreamSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return ErrSymbolRequired
	}
	if s.Kind == KindKline && strings.TrimSpace(s.Interval) == "" {
		return ErrIntervalRequired
	}
	return nil
}

// ID returns the deterministic stream id of the spec.
func (s StreamSpec) ID() string {
	n := s.Normalize()
	return StreamID(n.Symbol, n.Interval)
}

// Kline is one OHLCV candlestick. OpenTime identifies a candle within a symbol+interval series.
type Kline struct {
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	OpenTime  int64           `json:"open_time"` // epoch ms
	CloseTime int64           `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Key returns the cache key of the series the kline belongs to.
func (k Kline) Key() string { return KlineKey(k.Symbol, k.Interval) }

// Ticker is the latest traded price of a symbol.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"last_price"`
	Timestamp int64           `json:"timestamp"` // epoch ms of observation
}

// MarketMessage is carried on the update channel. Exactly one entity moves per message.
type MarketMessage interface {
	Key() string
	isMarketMessage()
}

type UpdateKline struct {
	Kline Kline
}

func (m UpdateKline) Key() string   { return m.Kline.Key() }
func (UpdateKline) isMarketMessage() {}

type UpdateTicker struct {
	Ticker Ticker
}

func (m UpdateTicker) Key() string   { return TickerKey(m.Ticker.Symbol) }
func (UpdateTicker) isMarketMessage() {}
