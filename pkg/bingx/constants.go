package bingx

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://open-api.bingx.com"

	tickerPath = "/openApi/swap/v2/quote/ticker"
	klinesPath = "/openApi/swap/v2/quote/klines"
)

var ErrUnknownInterval = errors.New("unknown kline interval")

// intervals maps the API value of every supported kline interval to its length.
var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour, // calendar months vary; close time is approximate
}

// NormalizeInterval converts an interval to the API form ("1min" becomes "1m").
func NormalizeInterval(interval string) (string, error) {
	s := strings.TrimSpace(interval)
	if strings.HasSuffix(s, "min") {
		s = strings.TrimSuffix(s, "in")
	}
	if _, ok := intervals[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return s, nil
}

// IntervalDuration returns the candle length of an interval in either form.
func IntervalDuration(interval string) (time.Duration, error) {
	s, err := NormalizeInterval(interval)
	if err != nil {
		return 0, err
	}
	return intervals[s], nil
}
