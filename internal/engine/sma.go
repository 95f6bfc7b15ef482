package engine

import (
	"fmt"
)

// SmaCrossStrategy 双均线交叉策略。
// 快线上穿慢线买入，下穿卖出。
type SmaCrossStrategy struct {
	fast int
	slow int

	closes   []float64
	prevDiff float64
	hasPrev  bool
}

// Init 应用参数：fast（默认 10）、slow（默认 20）
func (s *SmaCrossStrategy) Init(params map[string]float64) error {
	s.fast = int(paramOr(params, "fast", 10))
	s.slow = int(paramOr(params, "slow", 20))
	if s.fast <= 0 || s.slow <= 0 {
		return fmt.Errorf("sma periods must be positive: fast=%d slow=%d", s.fast, s.slow)
	}
	s.closes = s.closes[:0]
	s.prevDiff = 0
	s.hasPrev = false
	return nil
}

// Next 接收下一根 K 线
func (s *SmaCrossStrategy) Next(bar Bar) Signal {
	close, _ := bar.Close.Float64()
	s.closes = append(s.closes, close)

	warmup := s.slow
	if s.fast > warmup {
		warmup = s.fast
	}
	if len(s.closes) < warmup {
		return SignalHold
	}

	diff := sma(s.closes, s.fast) - sma(s.closes, s.slow)
	defer func() {
		s.prevDiff = diff
		s.hasPrev = true
	}()

	if !s.hasPrev {
		return SignalHold
	}
	if s.prevDiff <= 0 && diff > 0 {
		return SignalBuy
	}
	if s.prevDiff >= 0 && diff < 0 {
		return SignalSell
	}
	return SignalHold
}

// sma 序列末尾 period 个值的简单均值
func sma(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
