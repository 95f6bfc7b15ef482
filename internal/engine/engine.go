// Package engine 提供策略评估引擎：基于历史 K 线逐根驱动策略信号、
// 模拟滑点与手续费下的成交，并产出绩效指标。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar 表示一个 K 线数据点
type Bar struct {
	InstrumentID string
	Timestamp    time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       decimal.Decimal
}

// CostModel 回测成本模型
type CostModel struct {
	// 初始资金
	Cash decimal.Decimal
	// 成交额比例手续费
	Commission decimal.Decimal
	// 比例滑点
	SlipPerc decimal.Decimal
	// 固定滑点
	SlipFixed decimal.Decimal
	// 开仓成交是否计滑点
	SlipOpen bool
}

// Request 一次评估请求
type Request struct {
	Strategy  string
	Params    map[string]float64
	Bars      []Bar
	Cost      CostModel
	Timeframe string
	// Logf 逐行接收引擎输出，供调用方写入运行日志流；可为 nil
	Logf LogFunc
	// OnProgress 进度回调，参数为 [0,1] 的完成比例；可为 nil
	OnProgress func(frac float64)
}

// LogFunc 引擎日志回调
type LogFunc func(level, msg string)

// Trade 一笔已平仓交易
type Trade struct {
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Size       decimal.Decimal `json:"size"`
	PnL        decimal.Decimal `json:"pnl"`
}

// Result 评估结果报告
type Result struct {
	FinalValue   decimal.Decimal
	PnL          decimal.Decimal
	Sharpe       float64
	MaxDrawdown  float64
	SQN          float64
	WinRate      float64
	ProfitFactor float64
	TotalTrades  int
	WonTrades    int
	LostTrades   int
	Trades       []Trade
	EquityCurve  []decimal.Decimal
}

// Evaluator 评估引擎接口。编排核心只依赖该接口，模拟实现可替换
type Evaluator interface {
	Evaluate(ctx context.Context, req *Request) (*Result, error)
}

// ErrNoData 时间区间内没有 K 线数据
var ErrNoData = errors.New("no bar data for given range")

// SimEngine 逐根 K 线的模拟评估引擎
type SimEngine struct {
	registry *Registry
}

// NewSimEngine 创建模拟评估引擎
func NewSimEngine(registry *Registry) *SimEngine {
	return &SimEngine{registry: registry}
}

// progressEvery 进度回调的 K 线间隔
const progressEvery = 100

// Evaluate 执行一次完整的策略评估
func (e *SimEngine) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Bars) == 0 {
		return nil, ErrNoData
	}

	factory, err := e.registry.Get(req.Strategy)
	if err != nil {
		return nil, err
	}
	strat := factory()
	if err := strat.Init(req.Params); err != nil {
		return nil, fmt.Errorf("strategy %s init failed: %w", req.Strategy, err)
	}

	logf := req.Logf
	if logf == nil {
		logf = func(string, string) {}
	}

	invest := paramOr(req.Params, "invest", 0.95)
	if invest <= 0 || invest > 1 {
		invest = 0.95
	}

	cash := req.Cost.Cash
	position := decimal.Zero
	var entryPrice decimal.Decimal
	var entryTime time.Time

	equity := make([]decimal.Decimal, 0, len(req.Bars))
	var trades []Trade

	for i, bar := range req.Bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch strat.Next(bar) {
		case SignalBuy:
			if position.IsZero() {
				fill := e.fillPrice(bar.Close, req.Cost, req.Cost.SlipOpen, true)
				size := cash.Mul(decimal.NewFromFloat(invest)).Div(fill)
				if size.IsPositive() {
					notional := size.Mul(fill)
					fee := notional.Mul(req.Cost.Commission)
					cash = cash.Sub(notional).Sub(fee)
					position = size
					entryPrice = fill
					entryTime = bar.Timestamp
					logf("INFO", fmt.Sprintf("BUY EXECUTED price=%s size=%s comm=%s", fill, size, fee))
				}
			}
		case SignalSell:
			if position.IsPositive() {
				fill := e.fillPrice(bar.Close, req.Cost, true, false)
				notional := position.Mul(fill)
				fee := notional.Mul(req.Cost.Commission)
				cash = cash.Add(notional).Sub(fee)
				pnl := fill.Sub(entryPrice).Mul(position).Sub(fee)
				trades = append(trades, Trade{
					EntryTime:  entryTime,
					ExitTime:   bar.Timestamp,
					EntryPrice: entryPrice,
					ExitPrice:  fill,
					Size:       position,
					PnL:        pnl,
				})
				logf("INFO", fmt.Sprintf("SELL EXECUTED price=%s size=%s pnl=%s", fill, position, pnl))
				position = decimal.Zero
			}
		}

		equity = append(equity, cash.Add(position.Mul(bar.Close)))

		if req.OnProgress != nil && (i%progressEvery == 0 || i == len(req.Bars)-1) {
			req.OnProgress(float64(i+1) / float64(len(req.Bars)))
		}
	}

	finalValue := equity[len(equity)-1]
	result := &Result{
		FinalValue:  finalValue,
		PnL:         finalValue.Sub(req.Cost.Cash),
		Trades:      trades,
		EquityCurve: equity,
	}
	computeMetrics(result, req.Cost.Cash, req.Timeframe)

	logf("INFO", fmt.Sprintf("Final Portfolio Value: %s", finalValue.StringFixed(2)))
	return result, nil
}

// fillPrice 计算含滑点的成交价；买入向上滑，卖出向下滑
func (e *SimEngine) fillPrice(close decimal.Decimal, cost CostModel, slip bool, isBuy bool) decimal.Decimal {
	if !slip {
		return close
	}
	adj := close.Mul(cost.SlipPerc).Add(cost.SlipFixed)
	if isBuy {
		return close.Add(adj)
	}
	price := close.Sub(adj)
	if !price.IsPositive() {
		return close
	}
	return price
}

func paramOr(params map[string]float64, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return fallback
}
