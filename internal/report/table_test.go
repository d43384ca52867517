package report_test

import (
	"strings"
	"testing"
	"time"

	"marketfeed/internal/market"
	"marketfeed/internal/memorystore"
	"marketfeed/internal/report"
	"marketfeed/internal/stream"
)

// go test -v --run TestStreamsTable
func TestStreamsTable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := report.Streams([]stream.StreamMeta{
		{ID: "BTC-USDT@ticker", Kind: market.KindTicker, Status: stream.StatePolling, RunID: "0123456789abcdef", LastUpdate: now.Add(-2 * time.Second)},
		{ID: "ETH-USDT@kline_1m", Kind: market.KindKline, Status: stream.StateBackingOff, Failures: 3},
	}, now)

	for _, want := range []string{"BTC-USDT@ticker", "polling", "01234567", "2s ago", "backing_off", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

// go test -v --run TestSeriesTable
func TestSeriesTable(t *testing.T) {
	out := report.Series([]memorystore.SeriesMeta{
		{Symbol: "BTC-USDT", Interval: "1m", Count: 4, LastUpdate: 0},
		{Symbol: "ETH-USDT", Interval: "5m", Count: 6, LastUpdate: 1714564800000},
	})
	for _, want := range []string{"BTC-USDT", "2024-05-01T12:00:00Z", "10"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
