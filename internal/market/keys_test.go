package market_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"marketfeed/internal/market"
)

// go test -v --run TestKeys
func TestKeys(t *testing.T) {
	if got := market.KlineKey("BTC-USDT", "1m"); got != "BTC-USDT@kline_1m" {
		t.Errorf("KlineKey = %q", got)
	}
	if got := market.TickerKey("BTC-USDT"); got != "BTC-USDT@ticker" {
		t.Errorf("TickerKey = %q", got)
	}

	ts := time.Date(2024, time.March, 31, 23, 59, 0, 0, time.UTC).UnixMilli()
	if got := market.MonthKey("BTC-USDT@kline_1m", ts); got != "BTC-USDT@kline_1m-2024-03" {
		t.Errorf("MonthKey = %q", got)
	}
}

// go test -v --run TestStreamIDIsDeterministic
func TestStreamIDIsDeterministic(t *testing.T) {
	a := market.StreamSpec{Symbol: "ETH-USDT", Kind: market.KindKline, Interval: "1h"}
	b := market.StreamSpec{Symbol: " ETH-USDT ", Kind: market.KindKline, Interval: "1h"}
	if a.ID() != b.ID() {
		t.Fatalf("ids differ: %q vs %q", a.ID(), b.ID())
	}

	// tickers ignore the interval
	tk := market.StreamSpec{Symbol: "ETH-USDT", Kind: market.KindTicker, Interval: "5m"}
	if tk.ID() != "ETH-USDT@ticker" {
		t.Errorf("ticker id = %q", tk.ID())
	}
}

// go test -v --run TestMonthKeysInRange
func TestMonthKeysInRange(t *testing.T) {
	from := time.Date(2023, time.November, 15, 0, 0, 0, 0, time.UTC).UnixMilli()
	to := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	got := market.MonthKeysInRange("X@kline_1m", from, to)
	want := []string{
		"X@kline_1m-2023-11",
		"X@kline_1m-2023-12",
		"X@kline_1m-2024-01",
		"X@kline_1m-2024-02",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if keys := market.MonthKeysInRange("X@kline_1m", to, from); keys != nil {
		t.Errorf("reversed range should be empty, got %v", keys)
	}
	if keys := market.MonthKeysInRange("X@kline_1m", 150, 350); len(keys) != 1 || keys[0] != "X@kline_1m-1970-01" {
		t.Errorf("single month range = %v", keys)
	}
}

// go test -v --run TestMonthKeysInRangeIsBounded
func TestMonthKeysInRangeIsBounded(t *testing.T) {
	done := make(chan []string, 1)
	go func() { done <- market.MonthKeysInRange("X@kline_1m", 0, 1<<62) }()

	var keys []string
	select {
	case keys = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("huge range did not return")
	}
	if len(keys) != market.MaxMonthKeys {
		t.Fatalf("got %d keys, want %d", len(keys), market.MaxMonthKeys)
	}
	if want := market.MonthKey("X@kline_1m", 1<<62); keys[len(keys)-1] != want {
		t.Errorf("newest key = %q, want %q", keys[len(keys)-1], want)
	}

	// exactly at the bound nothing is dropped
	from := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, market.MaxMonthKeys-1, 0)
	keys = market.MonthKeysInRange("X@kline_1m", from.UnixMilli(), to.UnixMilli())
	if len(keys) != market.MaxMonthKeys || keys[0] != "X@kline_1m-2000-01" {
		t.Errorf("bounded range: %d keys starting at %v", len(keys), keys[0])
	}
}

// go test -v --run TestStreamSpecValidate
func TestStreamSpecValidate(t *testing.T) {
	if err := (market.StreamSpec{Kind: market.KindTicker}).Validate(); !errors.Is(err, market.ErrSymbolRequired) {
		t.Errorf("expected ErrSymbolRequired, got %v", err)
	}
	if err := (market.StreamSpec{Symbol: "BTC-USDT", Kind: market.KindKline}).Validate(); !errors.Is(err, market.ErrIntervalRequired) {
		t.Errorf("expected ErrIntervalRequired, got %v", err)
	}
	if err := (market.StreamSpec{Symbol: "BTC-USDT", Kind: market.KindTicker}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// go test -v --run TestParseStreamKind
func TestParseStreamKind(t *testing.T) {
	k, err := market.ParseStreamKind("Kline")
	if err != nil || k != market.KindKline {
		t.Fatalf("ParseStreamKind(Kline) = %v, %v", k, err)
	}
	if _, err := market.ParseStreamKind("trades"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
