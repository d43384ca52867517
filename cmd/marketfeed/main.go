package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketfeed/config"
	"marketfeed/internal/collector"
	"marketfeed/internal/httpapi"
	"marketfeed/logger"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file (defaults to ./config/config.yaml)")
	pflag.Parse()

	// viper config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("marketfeed stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("marketfeed stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := collector.NewSource(cfg.Exchange)
	if err != nil {
		return err
	}

	store, closeStore, err := collector.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("failed to close kline store", zap.Error(err))
		}
	}()

	c, err := collector.New(cfg, source, store, log)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		WSPushInterval: cfg.HTTP.WSPushInterval,
	}, c, log.Named("http"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	return g.Wait()
}
