package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// KlineRecord is one persisted candlestick. MonthKey is the cache batch key the row was saved
// under, so a batch loads with a single indexed lookup.
type KlineRecord struct {
	ID uint `gorm:"primaryKey"`

	MonthKey string `gorm:"type:varchar(96);not null;index:idx_kline_month_key"`

	// unique index
	Symbol   string `gorm:"type:varchar(32);not null;index:idx_symbol_interval_open_time,unique"`
	Interval string `gorm:"type:varchar(10);not null;index:idx_symbol_interval_open_time,unique"`
	OpenTime int64  `gorm:"not null;index:idx_symbol_interval_open_time,unique"`

	CloseTime int64 `gorm:"not null"`

	Open  decimal.Decimal `gorm:"type:numeric;not null"`
	High  decimal.Decimal `gorm:"type:numeric;not null"`
	Low   decimal.Decimal `gorm:"type:numeric;not null"`
	Close decimal.Decimal `gorm:"type:numeric;not null"`

	Volume decimal.Decimal `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (KlineRecord) TableName() string {
	return "kline_record"
}
