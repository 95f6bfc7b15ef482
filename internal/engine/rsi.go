package engine

import (
	"fmt"
)

// RsiCrossStrategy RSI 穿越策略。
// RSI 上穿下阈值买入，下穿上阈值卖出。
type RsiCrossStrategy struct {
	period int
	lower  float64
	upper  float64

	prevClose  float64
	hasClose   bool
	avgGain    float64
	avgLoss    float64
	changes    int
	prevRSI    float64
	hasPrevRSI bool
}

// Init 应用参数：period（默认 14）、lower（默认 30）、upper（默认 70）
func (s *RsiCrossStrategy) Init(params map[string]float64) error {
	s.period = int(paramOr(params, "period", 14))
	s.lower = paramOr(params, "lower", 30)
	s.upper = paramOr(params, "upper", 70)
	if s.period <= 0 {
		return fmt.Errorf("rsi period must be positive: %d", s.period)
	}
	if s.lower >= s.upper {
		return fmt.Errorf("rsi lower %v must be below upper %v", s.lower, s.upper)
	}
	s.prevClose = 0
	s.hasClose = false
	s.avgGain = 0
	s.avgLoss = 0
	s.changes = 0
	s.prevRSI = 0
	s.hasPrevRSI = false
	return nil
}

// Next 接收下一根 K 线，采用 Wilder 平滑递推 RSI
func (s *RsiCrossStrategy) Next(bar Bar) Signal {
	close, _ := bar.Close.Float64()
	if !s.hasClose {
		s.prevClose = close
		s.hasClose = true
		return SignalHold
	}

	change := close - s.prevClose
	s.prevClose = close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	s.changes++
	if s.changes <= s.period {
		// 前 period 个变化量累计简单均值
		s.avgGain += gain / float64(s.period)
		s.avgLoss += loss / float64(s.period)
		if s.changes < s.period {
			return SignalHold
		}
	} else {
		n := float64(s.period)
		s.avgGain = (s.avgGain*(n-1) + gain) / n
		s.avgLoss = (s.avgLoss*(n-1) + loss) / n
	}

	rsi := 100.0
	if s.avgLoss > 0 {
		rs := s.avgGain / s.avgLoss
		rsi = 100 - 100/(1+rs)
	}

	defer func() {
		s.prevRSI = rsi
		s.hasPrevRSI = true
	}()

	if !s.hasPrevRSI {
		return SignalHold
	}
	if s.prevRSI < s.lower && rsi >= s.lower {
		return SignalBuy
	}
	if s.prevRSI > s.upper && rsi <= s.upper {
		return SignalSell
	}
	return SignalHold
}
