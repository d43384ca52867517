package filestore_test

import (
	"context"
	"os"
	"testing"

	"marketfeed/internal/market"
	"marketfeed/pkg/storage/filestore"

	"github.com/shopspring/decimal"
)

func kline(openTime int64, price string) market.Kline {
	p := decimal.RequireFromString(price)
	return market.Kline{
		Symbol: "BTC-USDT", Interval: "1m",
		OpenTime: openTime, CloseTime: openTime + 59_999,
		Open: p, High: p, Low: p, Close: p,
		Volume: decimal.RequireFromString("0.125"),
	}
}

// go test -v --run TestSaveAppendsAndLoads
func TestSaveAppendsAndLoads(t *testing.T) {
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	key := "BTC-USDT@kline_1m-2024-03"

	if err := store.Save(ctx, key, []market.Kline{kline(100, "42000.5")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, key, []market.Kline{kline(200, "42001.25"), kline(300, "41999")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 klines, got %d", len(got))
	}
	if got[1].OpenTime != 200 || !got[1].Close.Equal(decimal.RequireFromString("42001.25")) {
		t.Errorf("unexpected second kline: %+v", got[1])
	}
	if !got[2].Volume.Equal(decimal.RequireFromString("0.125")) {
		t.Errorf("volume = %s", got[2].Volume)
	}
}

// go test -v --run TestLoadMissingFile
func TestLoadMissingFile(t *testing.T) {
	store, _ := filestore.New(t.TempDir())

	got, err := store.Load(context.Background(), "ETH-USDT@kline_1h-2020-01")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

// go test -v --run TestLoadCorruptFile
func TestLoadCorruptFile(t *testing.T) {
	store, _ := filestore.New(t.TempDir())
	key := "BTC-USDT@kline_1m-2024-03"

	if err := os.WriteFile(store.Path(key), []byte("not,a,kline\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(context.Background(), key); err == nil {
		t.Fatal("expected an error for a malformed file")
	}
}
