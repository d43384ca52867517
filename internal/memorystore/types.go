package memorystore

import (
	"context"
	"fmt"

	"marketfeed/internal/market"
)

// Store persists kline batches under month keys ("{symbol}@kline_{interval}-{YYYY}-{MM}").
// Save appends to whatever is already stored under the key. Load returns nil, nil for a key
// that was never written.
type Store interface {
	Save(ctx context.Context, key string, klines []market.Kline) error
	Load(ctx context.Context, key string) ([]market.Kline, error)
}

// SeriesMeta describes one symbol+interval series.
type SeriesMeta struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	Count      int    `json:"count"`       // klines in the slice it accompanies
	LastUpdate int64  `json:"last_update"` // epoch ms
}

// KlineSeries is the cache's unit of storage for one key: klines buffered since the last flush.
type KlineSeries struct {
	Meta   SeriesMeta     `json:"meta"`
	Klines []market.Kline `json:"klines"`
}

// KlineQuery selects a kline range. Nil bounds are open.
type KlineQuery struct {
	Symbol   string
	Interval string
	From     *int64
	To       *int64
	Limit    *int
}

// StoreError reports a durable store failure for one key.
type StoreError struct {
	Key string
	Op  string // "save" or "load"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
