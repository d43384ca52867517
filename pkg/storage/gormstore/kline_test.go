package gormstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/internal/market"
	"marketfeed/pkg/storage/gormstore"

	"github.com/shopspring/decimal"
)

func openSQLite(t *testing.T) *gormstore.Client {
	t.Helper()
	client, err := gormstore.OpenSQLite(filepath.Join(t.TempDir(), "klines.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func kline(openTime int64, closePrice int64) market.Kline {
	return market.Kline{
		Symbol:    "BTC-USDT",
		Interval:  "1m",
		OpenTime:  openTime,
		CloseTime: openTime + 59_999,
		Open:      decimal.NewFromInt(100),
		High:      decimal.NewFromInt(110),
		Low:       decimal.NewFromInt(90),
		Close:     decimal.NewFromInt(closePrice),
		Volume:    decimal.NewFromInt(3),
	}
}

// go test -v --run TestSaveAndLoad
func TestSaveAndLoad(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	key := "BTC-USDT@kline_1m-2024-01"
	if err := client.Save(ctx, key, []market.Kline{kline(120_000, 1), kline(60_000, 2)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := client.Save(ctx, key, []market.Kline{kline(180_000, 3)}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := client.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 klines, got %d", len(got))
	}
	for i, want := range []int64{60_000, 120_000, 180_000} {
		if got[i].OpenTime != want {
			t.Errorf("kline %d open time = %d, want %d", i, got[i].OpenTime, want)
		}
	}
	if !got[0].High.Equal(decimal.NewFromInt(110)) || got[0].Symbol != "BTC-USDT" {
		t.Errorf("unexpected row: %+v", got[0])
	}
}

// go test -v --run TestSaveOverwritesSameCandle
func TestSaveOverwritesSameCandle(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	key := "BTC-USDT@kline_1m-2024-01"
	batch := []market.Kline{kline(60_000, 1), kline(60_000, 2)}
	if err := client.Save(ctx, key, batch); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := client.Save(ctx, key, []market.Kline{kline(60_000, 5)}); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := client.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected a single row, got %d", len(got))
	}
	if !got[0].Close.Equal(decimal.NewFromInt(5)) {
		t.Errorf("close = %s, want 5", got[0].Close)
	}

	n, err := client.CountKlines(ctx, "BTC-USDT", "1m")
	if err != nil || n != 1 {
		t.Errorf("count = %d, %v", n, err)
	}
}

// go test -v --run TestLoadMissingKey
func TestLoadMissingKey(t *testing.T) {
	client := openSQLite(t)

	got, err := client.Load(context.Background(), "ETH-USDT@kline_1h-2020-01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

// go test -v --run TestDeleteBefore
func TestDeleteBefore(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	key := "BTC-USDT@kline_1m-1970-01"
	if err := client.Save(ctx, key, []market.Kline{kline(60_000, 1), kline(120_000, 1), kline(180_000, 1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	deleted, err := client.DeleteBefore(ctx, 120_000)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d rows, want 1", deleted)
	}
	if !client.IsHealthy(ctx) {
		t.Error("expected healthy connection")
	}
}

// go test -v --run TestPostgresRoundTrip
func TestPostgresRoundTrip(t *testing.T) {
	host := os.Getenv("MARKETFEED_TEST_PG_HOST")
	if host == "" {
		t.Skip("MARKETFEED_TEST_PG_HOST not set")
	}
	cfg := config.PostgresConfig{
		Host:            host,
		Port:            5432,
		User:            "postgres",
		Password:        os.Getenv("MARKETFEED_TEST_PG_PASSWORD"),
		DBName:          "marketfeed_test",
		SSLMode:         "disable",
		TimeZone:        "UTC",
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Minute,
	}

	client, err := gormstore.OpenPostgres(cfg, "dev", true)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	key := "BTC-USDT@kline_1m-1970-01"
	if err := client.Save(ctx, key, []market.Kline{kline(60_000, 1), kline(60_000, 4)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := client.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || !got[0].Close.Equal(decimal.NewFromInt(4)) {
		t.Errorf("unexpected rows: %+v", got)
	}
	if _, err := client.DeleteBefore(ctx, 1<<62); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}
