package ingest

import (
	"context"
	"fmt"
	"time"

	"marketfeed/internal/market"

	"go.uber.org/zap"
)

// Cache is what the actor writes to.
type Cache interface {
	IngestKline(ctx context.Context, k market.Kline) error
	IngestTicker(t market.Ticker)
	FlushIfDue(ctx context.Context) error
}

// Actor is the only writer of the cache. It applies updates in channel order, so the last
// message received for a key wins.
type Actor struct {
	cache       Cache
	flushTicker time.Duration
	logger      *zap.Logger

	applied uint64
	failed  uint64
}

// NewActor builds an actor. flushTicker > 0 also checks the flush deadline on a timer, so quiet
// series still reach the store.
func NewActor(cache Cache, flushTicker time.Duration, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actor{cache: cache, flushTicker: flushTicker, logger: logger}
}

// Run drains in until it is closed. ctx is handed to the cache for store I/O; cancelling it does
// not stop the loop.
func (a *Actor) Run(ctx context.Context, in <-chan market.MarketMessage) error {
	var tick <-chan time.Time
	if a.flushTicker > 0 {
		t := time.NewTicker(a.flushTicker)
		defer t.Stop()
		tick = t.C
	}

	a.logger.Info("ingest actor started")
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				a.logger.Info("ingest actor stopped",
					zap.Uint64("applied", a.applied), zap.Uint64("failed", a.failed))
				return nil
			}
			a.apply(ctx, msg)
		case <-tick:
			if err := a.cache.FlushIfDue(ctx); err != nil {
				a.logger.Warn("scheduled flush failed", zap.Error(err))
			}
		}
	}
}

func (a *Actor) apply(ctx context.Context, msg market.MarketMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.failed++
			a.logger.Error("panic while applying update",
				zap.String("key", msg.Key()), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	switch m := msg.(type) {
	case market.UpdateKline:
		if err := a.cache.IngestKline(ctx, m.Kline); err != nil {
			// the kline itself is buffered; only the flush failed
			a.logger.Warn("kline flush failed", zap.String("key", m.Key()), zap.Error(err))
		}
	case market.UpdateTicker:
		a.cache.IngestTicker(m.Ticker)
	default:
		a.failed++
		a.logger.Warn("unknown market message", zap.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	a.applied++
}
