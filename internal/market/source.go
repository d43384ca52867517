package market

import (
	"context"
	"fmt"
)

// FeedSource is the capability an exchange adapter provides to the stream manager.
// Interval normalisation is the adapter's job.
type FeedSource interface {
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchKline(ctx context.Context, symbol, interval string) (Kline, error)
}

// FetchError reports a network or parse failure talking to an exchange.
type FetchError struct {
	Op     string // "ticker" or "kline"
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
