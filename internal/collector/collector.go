package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketfeed/config"
	"marketfeed/internal/ingest"
	"marketfeed/internal/market"
	"marketfeed/internal/memorystore"
	"marketfeed/internal/report"
	"marketfeed/internal/stream"
	"marketfeed/internal/supervisor"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownFlushTimeout = 10 * time.Second
	storeCallTimeout     = 5 * time.Second
	maxPruneInterval     = time.Hour
)

var ErrAlreadyRunning = errors.New("collector already running")

// Optional store capabilities. Only the gorm store counts and prunes rows; every networked store
// answers health checks.
type (
	healthChecker interface {
		Health(ctx context.Context) error
	}
	klineCounter interface {
		CountKlines(ctx context.Context, symbol, interval string) (int64, error)
	}
	pruner interface {
		DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
	}
)

// Collector wires the feed manager, supervisor, ingestion actor and cache together and is the
// query surface for everything above them.
type Collector struct {
	cache      *memorystore.MarketCache
	streams    *stream.Manager
	needed     *supervisor.NeededSet
	supervisor *supervisor.Supervisor
	actor      *ingest.Actor
	updates    chan market.MarketMessage
	store      memorystore.Store

	statusInterval time.Duration
	retention      time.Duration
	logger         *zap.Logger

	runOnce sync.Once
}

// New builds a collector polling source and persisting to store. store may be nil.
func New(cfg *config.Config, source market.FeedSource, store memorystore.Store, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	policy, err := RetryPolicy(cfg.Feed.Retry)
	if err != nil {
		return nil, err
	}

	specs, err := NeededSpecs(cfg.Feed.Needed)
	if err != nil {
		return nil, err
	}

	updates := make(chan market.MarketMessage, cfg.Feed.ChannelSize)

	cache := memorystore.NewMarketCache(store, logger.Named("cache"),
		memorystore.WithFlushInterval(cfg.Cache.FlushInterval))

	streams := stream.NewManager(source, updates, stream.Config{
		PollInterval: cfg.Feed.PollInterval,
		FetchTimeout: cfg.Feed.FetchTimeout,
		Retry:        policy,
	}, logger.Named("stream"))

	needed, err := supervisor.NewNeededSet(specs...)
	if err != nil {
		return nil, err
	}

	return &Collector{
		cache:   cache,
		streams: streams,
		needed:  needed,
		supervisor: supervisor.New(needed, streams, logger.Named("supervisor"),
			supervisor.WithInterval(cfg.Supervisor.Interval),
			supervisor.WithMatchByID(cfg.Supervisor.MatchByID)),
		actor:          ingest.NewActor(cache, cfg.Cache.FlushTicker, logger.Named("ingest")),
		updates:        updates,
		store:          store,
		statusInterval: cfg.StatusInterval,
		retention:      cfg.Storage.Retention,
		logger:         logger,
	}, nil
}

// Run starts the actor, the supervisor and the status reporter and blocks until ctx is
// cancelled. On the way out every feed is stopped, the channel is drained into the cache and the
// cache is flushed one last time. Run may only be called once.
func (c *Collector) Run(ctx context.Context) error {
	err := ErrAlreadyRunning
	c.runOnce.Do(func() { err = c.run(ctx) })
	return err
}

func (c *Collector) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// the actor outlives ctx: it stops once the channel is closed and drained
	g.Go(func() error {
		return c.actor.Run(context.WithoutCancel(ctx), c.updates)
	})
	g.Go(func() error {
		return c.supervisor.Run(gctx)
	})
	g.Go(func() error {
		c.reportStatus(gctx)
		return nil
	})
	g.Go(func() error {
		c.pruneStore(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.streams.Stop()
		close(c.updates)
		return nil
	})

	c.logger.Info("collector started")
	runErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := c.cache.Flush(flushCtx); err != nil {
		c.logger.Error("final flush failed", zap.Error(err))
		return errors.Join(runErr, fmt.Errorf("final flush: %w", err))
	}
	c.logger.Info("collector stopped")
	return runErr
}

func (c *Collector) reportStatus(ctx context.Context) {
	if c.statusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.logger.Info("current buffered klines",
				zap.Int("count", c.cache.BufferedCount()),
				zap.Int("streams", len(c.streams.List())))
			if ce := c.logger.Check(zap.DebugLevel, "stream status"); ce != nil {
				ce.Write(zap.String("table", "\n"+report.Streams(c.streams.List(), now)+"\n"+report.Series(c.cache.Series())))
				c.reportPersisted(ctx)
			}
		}
	}
}

// reportPersisted logs the stored row count of every cached series when the store can count.
func (c *Collector) reportPersisted(ctx context.Context) {
	counter, ok := c.store.(klineCounter)
	if !ok {
		return
	}
	for _, s := range c.cache.Series() {
		cctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
		n, err := counter.CountKlines(cctx, s.Symbol, s.Interval)
		cancel()
		if err != nil {
			c.logger.Warn("failed to count persisted klines", zap.String("symbol", s.Symbol), zap.Error(err))
			continue
		}
		c.logger.Debug("persisted klines",
			zap.String("symbol", s.Symbol),
			zap.String("interval", s.Interval),
			zap.Int64("rows", n))
	}
}

// pruneStore deletes stored klines older than the retention window, once at start and then
// periodically. It does nothing without a retention or when the store cannot prune.
func (c *Collector) pruneStore(ctx context.Context) {
	p, ok := c.store.(pruner)
	if c.retention <= 0 || !ok {
		return
	}
	interval := min(c.retention, maxPruneInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-c.retention).UnixMilli()
		pctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
		n, err := p.DeleteBefore(pctx, cutoff)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			c.logger.Warn("failed to prune klines", zap.Error(err))
		case n > 0:
			c.logger.Info("pruned klines", zap.Int64("rows", n), zap.Int64("cutoff", cutoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StoreHealth reports whether the durable store is reachable. A missing store, or one without
// a health check, is healthy.
func (c *Collector) StoreHealth(ctx context.Context) error {
	hc, ok := c.store.(healthChecker)
	if !ok {
		return nil
	}
	return hc.Health(ctx)
}

// LastPrice returns the last traded price of symbol, if a ticker was ever received.
func (c *Collector) LastPrice(symbol string) (decimal.Decimal, bool) {
	t, ok := c.cache.LatestTicker(symbol)
	if !ok {
		return decimal.Decimal{}, false
	}
	return t.LastPrice, true
}

func (c *Collector) TickerData(symbol string) (market.Ticker, bool) {
	return c.cache.LatestTicker(symbol)
}

func (c *Collector) KlineData(ctx context.Context, q memorystore.KlineQuery) (memorystore.KlineSeries, bool) {
	return c.cache.QueryKlines(ctx, q)
}

func (c *Collector) ActiveStreams() []stream.StreamMeta {
	return c.streams.List()
}

func (c *Collector) OpenStream(spec market.StreamSpec) (string, error) {
	return c.streams.Open(spec)
}

func (c *Collector) CloseStream(id string) (stream.StreamMeta, bool) {
	return c.streams.Close(id)
}

func (c *Collector) AddNeededStream(spec market.StreamSpec) (bool, error) {
	return c.needed.Add(spec)
}

// RemoveNeededStream stops the supervisor from re-opening the feed. A live feed keeps running.
func (c *Collector) RemoveNeededStream(symbol, interval string) int {
	return c.needed.Remove(symbol, interval)
}

func (c *Collector) NeededStreams() []market.StreamSpec {
	return c.needed.List()
}

// RetryPolicy builds the feed retry policy described by cfg.
func RetryPolicy(cfg config.RetryConfig) (stream.RetryPolicy, error) {
	switch cfg.Policy {
	case "", "fixed":
		delay := cfg.Base
		if delay <= 0 {
			delay = time.Second
		}
		return stream.FixedRetry{Delay: delay, MaxRetries: cfg.MaxRetries}, nil
	case "exponential":
		base := cfg.Base
		if base <= 0 {
			base = time.Second
		}
		return stream.ExponentialRetry{Base: base, Max: cfg.Max, MaxRetries: cfg.MaxRetries}, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", cfg.Policy)
	}
}

// NeededSpecs converts the configured startup feeds.
func NeededSpecs(feeds []config.NeededFeed) ([]market.StreamSpec, error) {
	out := make([]market.StreamSpec, 0, len(feeds))
	for i, f := range feeds {
		kind, err := market.ParseStreamKind(f.Kind)
		if err != nil {
			return nil, fmt.Errorf("feed.needed[%d]: %w", i, err)
		}
		spec := market.StreamSpec{Symbol: f.Symbol, Kind: kind, Interval: f.Interval}.Normalize()
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("feed.needed[%d]: %w", i, err)
		}
		out = append(out, spec)
	}
	return out, nil
}
