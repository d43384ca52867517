package memorystore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"marketfeed/internal/market"

	"go.uber.org/zap"
)

// DefaultFlushInterval is how long buffered klines may sit in memory before the next ingest
// pushes every series to the durable store.
const DefaultFlushInterval = 20 * time.Second

// MarketCache is the hybrid memory/disk store of klines and tickers. All state sits behind a
// single mutex that is never held across store I/O.
type MarketCache struct {
	mu        sync.Mutex
	klines    map[string]*KlineSeries
	tickers   map[string]market.Ticker
	lastFlush time.Time

	// serialises flushes; the flushed prefix of a buffer is dropped after the write completes
	flushMu sync.Mutex

	store         Store
	flushInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

type Option func(*MarketCache)

func WithFlushInterval(d time.Duration) Option {
	return func(c *MarketCache) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *MarketCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMarketCache creates a cache backed by store. A nil store keeps nothing on disk: flushes
// only trim the buffers and range queries see memory alone.
func NewMarketCache(store Store, logger *zap.Logger, opts ...Option) *MarketCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MarketCache{
		klines:        make(map[string]*KlineSeries),
		tickers:       make(map[string]market.Ticker),
		store:         store,
		flushInterval: DefaultFlushInterval,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastFlush = c.now()
	return c
}

// IngestKline appends k to its series. When the flush interval has elapsed since the last flush,
// every series is written to the store and its buffer cleared; a write failure is returned.
func (c *MarketCache) IngestKline(ctx context.Context, k market.Kline) error {
	key := k.Key()

	c.mu.Lock()
	series, ok := c.klines[key]
	if !ok {
		series = &KlineSeries{Meta: SeriesMeta{Symbol: k.Symbol, Interval: k.Interval}}
		c.klines[key] = series
	}
	now := c.now()
	series.Klines = append(series.Klines, k)
	series.Meta.Count = len(series.Klines)
	series.Meta.LastUpdate = now.UnixMilli()
	due := now.Sub(c.lastFlush) >= c.flushInterval
	c.mu.Unlock()

	if !due {
		return nil
	}
	return c.flush(ctx, false)
}

// Flush writes every buffered series to the store regardless of the interval.
func (c *MarketCache) Flush(ctx context.Context) error {
	return c.flush(ctx, true)
}

// FlushIfDue flushes only when the flush interval has elapsed.
func (c *MarketCache) FlushIfDue(ctx context.Context) error {
	return c.flush(ctx, false)
}

func (c *MarketCache) flush(ctx context.Context, force bool) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	now := c.now()
	if !force && now.Sub(c.lastFlush) < c.flushInterval {
		c.mu.Unlock()
		return nil
	}
	batches := make(map[string][]market.Kline, len(c.klines))
	for key, s := range c.klines {
		if len(s.Klines) == 0 {
			continue
		}
		batches[key] = append([]market.Kline(nil), s.Klines...)
	}
	c.lastFlush = now
	c.mu.Unlock()

	var errs []error
	saved := make(map[string]map[string]bool, len(batches))
	for key, batch := range batches {
		months, err := c.save(ctx, batch)
		if err != nil {
			c.logger.Warn("failed to flush klines", zap.String("key", key), zap.Error(err))
			errs = append(errs, err)
		}
		if len(months) > 0 {
			saved[key] = months
		}
	}

	total := 0
	c.mu.Lock()
	for key, months := range saved {
		s := c.klines[key]
		n := len(batches[key])
		// appends only ever land after the copied prefix; of that prefix only klines whose month
		// was not written stay
		kept := make([]market.Kline, 0, len(s.Klines)-n)
		for _, k := range s.Klines[:n] {
			if months[market.MonthKey(key, k.OpenTime)] {
				total++
				continue
			}
			kept = append(kept, k)
		}
		s.Klines = append(kept, s.Klines[n:]...)
		s.Meta.Count = len(s.Klines)
	}
	c.mu.Unlock()

	if total > 0 {
		c.logger.Debug("flushed klines", zap.Int("keys", len(saved)), zap.Int("klines", total))
	}
	return errors.Join(errs...)
}

// save writes one series batch, split by the month of each kline's open time, and reports the
// month keys that were written. It stops at the first failing month.
func (c *MarketCache) save(ctx context.Context, batch []market.Kline) (map[string]bool, error) {
	written := make(map[string]bool)
	var months []string
	groups := make(map[string][]market.Kline)
	for _, k := range batch {
		mk := market.MonthKey(k.Key(), k.OpenTime)
		if _, ok := groups[mk]; !ok {
			months = append(months, mk)
		}
		groups[mk] = append(groups[mk], k)
	}
	for _, mk := range months {
		if c.store != nil {
			if err := c.store.Save(ctx, mk, groups[mk]); err != nil {
				return written, &StoreError{Key: mk, Op: "save", Err: err}
			}
		}
		written[mk] = true
	}
	return written, nil
}

// QueryKlines reconstructs a range from the store (only when From is set) and the in-memory
// buffer, filtered to the bounds, sorted by open time and cut to the first Limit entries.
func (c *MarketCache) QueryKlines(ctx context.Context, q KlineQuery) (KlineSeries, bool) {
	key := market.KlineKey(q.Symbol, q.Interval)

	c.mu.Lock()
	var inMem []market.Kline
	if s, ok := c.klines[key]; ok {
		inMem = append(inMem, s.Klines...)
	}
	now := c.now()
	c.mu.Unlock()

	var out []market.Kline
	if q.From != nil && c.store != nil {
		// nothing on disk can be newer than now
		to := now.UnixMilli()
		if q.To != nil && *q.To < to {
			to = *q.To
		}
		for _, mk := range market.MonthKeysInRange(key, *q.From, to) {
			loaded, err := c.store.Load(ctx, mk)
			if err != nil {
				c.logger.Warn("skipping unreadable kline batch",
					zap.Error(&StoreError{Key: mk, Op: "load", Err: err}))
				continue
			}
			out = append(out, loaded...)
		}
	}
	out = append(out, inMem...)

	filtered := out[:0]
	for _, k := range out {
		if q.From != nil && k.OpenTime < *q.From {
			continue
		}
		if q.To != nil && k.OpenTime > *q.To {
			continue
		}
		filtered = append(filtered, k)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].OpenTime < filtered[j].OpenTime
	})

	// first N of the ascending order, i.e. the oldest candles in range
	if q.Limit != nil && *q.Limit >= 0 && *q.Limit < len(filtered) {
		filtered = filtered[:*q.Limit]
	}

	if len(filtered) == 0 {
		return KlineSeries{}, false
	}
	return KlineSeries{
		Meta: SeriesMeta{
			Symbol:     q.Symbol,
			Interval:   q.Interval,
			Count:      len(filtered),
			LastUpdate: now.UnixMilli(),
		},
		Klines: filtered,
	}, true
}

// Series returns the metadata of every kline series.
func (c *MarketCache) Series() []SeriesMeta {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SeriesMeta, 0, len(c.klines))
	for _, s := range c.klines {
		out = append(out, s.Meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return market.KlineKey(out[i].Symbol, out[i].Interval) < market.KlineKey(out[j].Symbol, out[j].Interval)
	})
	return out
}

// BufferedCount returns the number of klines waiting for the next flush across all series.
func (c *MarketCache) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, s := range c.klines {
		total += len(s.Klines)
	}
	return total
}
