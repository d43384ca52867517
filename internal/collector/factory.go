package collector

import (
	"context"
	"fmt"

	"marketfeed/config"
	"marketfeed/internal/market"
	"marketfeed/internal/memorystore"
	"marketfeed/pkg/binance"
	"marketfeed/pkg/bingx"
	"marketfeed/pkg/storage/filestore"
	"marketfeed/pkg/storage/gormstore"
	"marketfeed/pkg/storage/redisstore"

	"go.uber.org/zap"
)

// NewSource returns the feed source for the configured exchange.
func NewSource(cfg config.ExchangeConfig) (market.FeedSource, error) {
	switch cfg.Name {
	case "", "bingx":
		client := bingx.NewRESTClient(cfg.RESTURL, cfg.Timeout, cfg.RateLimit, cfg.Burst)
		return bingx.NewSource(client), nil
	case "binance":
		url := cfg.RESTURL
		if url == bingx.DefaultBaseURL {
			url = ""
		}
		return binance.NewSource(url, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.Name)
	}
}

// OpenStore opens the durable kline store for the configured driver. The returned close function
// is never nil.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memorystore.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Driver {
	case "", "file":
		s, err := filestore.New(cfg.Storage.Dir)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using csv kline store", zap.String("dir", cfg.Storage.Dir))
		return s, noop, nil

	case "postgres":
		client, err := gormstore.OpenPostgres(cfg.Postgres, cfg.Log.Environment, cfg.Storage.CreateDB)
		if err != nil {
			return nil, noop, err
		}
		if !client.IsHealthy(ctx) {
			client.Close()
			return nil, noop, fmt.Errorf("postgres is not reachable")
		}
		logger.Info("using postgres kline store", zap.String("dbname", cfg.Postgres.DBName))
		return client, client.Close, nil

	case "sqlite":
		client, err := gormstore.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using sqlite kline store", zap.String("path", cfg.Storage.SQLitePath))
		return client, client.Close, nil

	case "redis":
		s, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using redis kline store", zap.String("addr", cfg.Redis.Addr))
		return s, s.Close, nil

	case "none":
		logger.Warn("no durable kline store configured; flushed klines are dropped")
		return nil, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
