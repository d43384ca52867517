package market

import (
	"fmt"
	"time"
)

// KlineKey builds the series key, e.g. "BTC-USDT@kline_1m".
func KlineKey(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", symbol, interval)
}

// TickerKey builds the ticker key, e.g. "BTC-USDT@ticker".
func TickerKey(symbol string) string {
	return fmt.Sprintf("%s@ticker", symbol)
}

// StreamID derives the feed id from symbol and interval. Tickers carry no interval, so the
// same logical feed always maps to the same id.
func StreamID(symbol, interval string) string {
	if interval == "" {
		return TickerKey(symbol)
	}
	return KlineKey(symbol, interval)
}

// MonthKey addresses the durable batch of a series for the UTC month containing ts (epoch ms):
// "{seriesKey}-{YYYY}-{MM}".
func MonthKey(seriesKey string, ts int64) string {
	t := time.UnixMilli(ts).UTC()
	return monthKey(seriesKey, t.Year(), t.Month())
}

func monthKey(seriesKey string, year int, month time.Month) string {
	return fmt.Sprintf("%s-%04d-%02d", seriesKey, year, int(month))
}

// MaxMonthKeys bounds MonthKeysInRange. Wider ranges keep the newest months.
const MaxMonthKeys = 1200

// MonthKeysInRange lists the month keys spanned by [from, to] (epoch ms), oldest first, at most
// MaxMonthKeys of them.
func MonthKeysInRange(seriesKey string, from, to int64) []string {
	if from > to {
		return nil
	}
	start := time.UnixMilli(from).UTC()
	end := time.UnixMilli(to).UTC()

	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)

	span := (last.Year()-cur.Year())*12 + int(last.Month()) - int(cur.Month()) + 1
	if span > MaxMonthKeys {
		cur = last.AddDate(0, -(MaxMonthKeys - 1), 0)
		span = MaxMonthKeys
	}

	keys := make([]string, 0, span)
	for !cur.After(last) {
		keys = append(keys, monthKey(seriesKey, cur.Year(), cur.Month()))
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}
