package engine

import (
	"math"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// computeMetrics 基于资金曲线和成交列表填充绩效指标
func computeMetrics(result *Result, initialCash decimal.Decimal, timeframe string) {
	result.TotalTrades = len(result.Trades)

	var grossWin, grossLoss float64
	tradePnls := make([]float64, 0, len(result.Trades))
	for _, trade := range result.Trades {
		pnl, _ := trade.PnL.Float64()
		tradePnls = append(tradePnls, pnl)
		if pnl > 0 {
			result.WonTrades++
			grossWin += pnl
		} else if pnl < 0 {
			result.LostTrades++
			grossLoss += -pnl
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WonTrades) / float64(result.TotalTrades)
	}
	if grossLoss > 0 {
		result.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		result.ProfitFactor = math.Inf(1)
	}

	// SQN = sqrt(N) * mean(pnl) / std(pnl)
	if len(tradePnls) > 1 {
		mean, _ := stats.Mean(tradePnls)
		std, _ := stats.StandardDeviationSample(tradePnls)
		if std > 0 {
			result.SQN = math.Sqrt(float64(len(tradePnls))) * mean / std
		}
	}

	result.Sharpe = sharpeRatio(result.EquityCurve, timeframe)
	result.MaxDrawdown = maxDrawdown(result.EquityCurve)
}

// sharpeRatio 按周期收益率序列计算年化夏普比率
func sharpeRatio(equity []decimal.Decimal, timeframe string) float64 {
	if len(equity) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev, _ := equity[i-1].Float64()
		curr, _ := equity[i].Float64()
		if prev != 0 {
			returns = append(returns, curr/prev-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	mean, _ := stats.Mean(returns)
	std, _ := stats.StandardDeviationSample(returns)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear(timeframe))
}

// maxDrawdown 资金曲线的最大回撤比例
func maxDrawdown(equity []decimal.Decimal) float64 {
	var maxDD float64
	peak := math.Inf(-1)
	for _, e := range equity {
		v, _ := e.Float64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// periodsPerYear 时间周期对应的年化系数
func periodsPerYear(timeframe string) float64 {
	switch strings.ToLower(timeframe) {
	case "1m":
		return 365 * 24 * 60
	case "5m":
		return 365 * 24 * 12
	case "15m":
		return 365 * 24 * 4
	case "30m":
		return 365 * 24 * 2
	case "1h":
		return 365 * 24
	case "4h":
		return 365 * 6
	case "1d":
		return 365
	case "1w":
		return 52
	default:
		return 252
	}
}
