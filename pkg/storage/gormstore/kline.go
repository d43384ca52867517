package gormstore

import (
	"context"
	"fmt"

	"marketfeed/internal/market"

	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// Save upserts klines under the month key. A candle already stored for the same symbol, interval
// and open time is overwritten, so repeated polls of a forming candle keep only the latest values.
func (c *Client) Save(ctx context.Context, key string, klines []market.Kline) error {
	if len(klines) == 0 {
		return nil
	}

	// one row per open time; a single statement may not touch the same row twice
	idx := make(map[string]int, len(klines))
	records := make([]KlineRecord, 0, len(klines))
	for _, k := range klines {
		rec := ToKlineRecord(key, k)
		rk := fmt.Sprintf("%s|%s|%d", rec.Symbol, rec.Interval, rec.OpenTime)
		if i, ok := idx[rk]; ok {
			records[i] = rec
			continue
		}
		idx[rk] = len(records)
		records = append(records, rec)
	}

	tx := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "open_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"month_key", "close_time", "open", "high", "low", "close", "volume", "updated_at",
		}),
	}).CreateInBatches(records, insertBatchSize)
	if tx.Error != nil {
		return fmt.Errorf("upsert klines %s: %w", key, tx.Error)
	}
	return nil
}

// Load returns every kline saved under the month key ordered by open time, or nil if none.
func (c *Client) Load(ctx context.Context, key string) ([]market.Kline, error) {
	var records []KlineRecord
	err := c.DB.WithContext(ctx).
		Where("month_key = ?", key).
		Order("open_time asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load klines %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	out := make([]market.Kline, len(records))
	for i, r := range records {
		out[i] = r.ToKline()
	}
	return out, nil
}

// CountKlines returns how many rows are stored for a symbol and interval.
func (c *Client) CountKlines(ctx context.Context, symbol, interval string) (int64, error) {
	var n int64
	err := c.DB.WithContext(ctx).
		Model(&KlineRecord{}).
		Where(map[string]any{"symbol": symbol, "interval": interval}).
		Count(&n).Error
	return n, err
}

// DeleteBefore removes rows whose open time is older than the cutoff (epoch ms).
func (c *Client) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	tx := c.DB.WithContext(ctx).
		Where("open_time < ?", cutoff).
		Delete(&KlineRecord{})
	return tx.RowsAffected, tx.Error
}

// ToKlineRecord converts a kline into a row saved under the month key.
func ToKlineRecord(key string, k market.Kline) KlineRecord {
	return KlineRecord{
		MonthKey:  key,
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
	}
}

func (r KlineRecord) ToKline() market.Kline {
	return market.Kline{
		Symbol:    r.Symbol,
		Interval:  r.Interval,
		OpenTime:  r.OpenTime,
		CloseTime: r.CloseTime,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}
