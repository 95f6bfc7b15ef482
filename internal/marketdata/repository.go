// Package marketdata 提供历史 K 线的只读数据源，是评估引擎的数据输入
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/quantbacktest/internal/engine"
)

// BarReader 历史 K 线读取接口
type BarReader interface {
	// GetBars 按时间升序返回指定区间的 K 线；since/until 为 nil 时不限制
	GetBars(ctx context.Context, instrumentID, timeframe string, since, until *time.Time) ([]engine.Bar, error)
	// GetRange 返回该序列的最早与最晚时间戳
	GetRange(ctx context.Context, instrumentID, timeframe string) (first, last time.Time, err error)
}

// ErrEmptySeries 指定品种与周期没有任何数据
var ErrEmptySeries = errors.New("no candle data for instrument and timeframe")

// CandlestickModel K 线数据库模型
type CandlestickModel struct {
	InstrumentID string          `gorm:"column:instrument_id;type:varchar(30);primaryKey"`
	Timeframe    string          `gorm:"column:timeframe;type:varchar(10);primaryKey"`
	Ts           time.Time       `gorm:"column:ts;primaryKey"`
	Open         decimal.Decimal `gorm:"column:open;type:decimal(30,8)"`
	High         decimal.Decimal `gorm:"column:high;type:decimal(30,8)"`
	Low          decimal.Decimal `gorm:"column:low;type:decimal(30,8)"`
	Close        decimal.Decimal `gorm:"column:close;type:decimal(30,8)"`
	Volume       decimal.Decimal `gorm:"column:volume;type:decimal(30,8)"`
}

func (CandlestickModel) TableName() string { return "candlesticks" }

type candleRepository struct {
	db *gorm.DB
}

// NewCandleRepository 创建 K 线仓储
func NewCandleRepository(db *gorm.DB) BarReader {
	return &candleRepository{db: db}
}

func (r *candleRepository) GetBars(ctx context.Context, instrumentID, timeframe string, since, until *time.Time) ([]engine.Bar, error) {
	query := r.db.WithContext(ctx).
		Where("instrument_id = ? AND timeframe = ?", instrumentID, timeframe)
	if since != nil {
		query = query.Where("ts >= ?", *since)
	}
	if until != nil {
		query = query.Where("ts <= ?", *until)
	}

	var models []*CandlestickModel
	if err := query.Order("ts ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	bars := make([]engine.Bar, 0, len(models))
	for _, m := range models {
		bars = append(bars, engine.Bar{
			InstrumentID: m.InstrumentID,
			Timestamp:    m.Ts.UTC(),
			Open:         m.Open,
			High:         m.High,
			Low:          m.Low,
			Close:        m.Close,
			Volume:       m.Volume,
		})
	}
	return bars, nil
}

func (r *candleRepository) GetRange(ctx context.Context, instrumentID, timeframe string) (time.Time, time.Time, error) {
	type bounds struct {
		First *time.Time
		Last  *time.Time
	}
	var b bounds
	err := r.db.WithContext(ctx).
		Model(&CandlestickModel{}).
		Select("MIN(ts) as first, MAX(ts) as last").
		Where("instrument_id = ? AND timeframe = ?", instrumentID, timeframe).
		Scan(&b).Error
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if b.First == nil || b.Last == nil {
		return time.Time{}, time.Time{}, ErrEmptySeries
	}
	return b.First.UTC(), b.Last.UTC(), nil
}
