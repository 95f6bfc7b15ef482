package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes []float64) []Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = Bar{
			InstrumentID: "BTC-USDT",
			Timestamp:    start.AddDate(0, 0, i),
			Open:         price,
			High:         price,
			Low:          price,
			Close:        price,
			Volume:       decimal.NewFromInt(1),
		}
	}
	return bars
}

func defaultCost() CostModel {
	return CostModel{
		Cash:       decimal.NewFromInt(10000),
		Commission: decimal.Zero,
		SlipPerc:   decimal.Zero,
		SlipFixed:  decimal.Zero,
		SlipOpen:   true,
	}
}

func TestSimEngineEvaluate(t *testing.T) {
	ctx := context.Background()
	eng := NewSimEngine(DefaultRegistry())

	t.Run("empty series is an error", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, &Request{Strategy: "buyhold", Cost: defaultCost()})
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("unknown strategy is an error", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, &Request{
			Strategy: "nope",
			Bars:     barsFromCloses([]float64{1, 2, 3}),
			Cost:     defaultCost(),
		})
		assert.ErrorContains(t, err, "unknown strategy")
	})

	t.Run("buyhold profits on rising series", func(t *testing.T) {
		result, err := eng.Evaluate(ctx, &Request{
			Strategy: "buyhold",
			Bars:     barsFromCloses([]float64{100, 110, 120, 130, 140}),
			Cost:     defaultCost(),
		})

		require.NoError(t, err)
		assert.True(t, result.PnL.IsPositive(), "pnl=%s", result.PnL)
		assert.Len(t, result.EquityCurve, 5)
		// 持仓未平，不产生已平仓交易
		assert.Zero(t, result.TotalTrades)
	})

	t.Run("sma cross trades a round trip", func(t *testing.T) {
		// 上升后下降，快线先上穿再下穿
		closes := make([]float64, 0, 40)
		for i := 0; i < 10; i++ {
			closes = append(closes, 100)
		}
		for i := 0; i < 15; i++ {
			closes = append(closes, 100+float64(i+1)*5)
		}
		for i := 0; i < 15; i++ {
			closes = append(closes, 175-float64(i+1)*8)
		}

		result, err := eng.Evaluate(ctx, &Request{
			Strategy: "sma",
			Params:   map[string]float64{"fast": 3, "slow": 8},
			Bars:     barsFromCloses(closes),
			Cost:     defaultCost(),
		})

		require.NoError(t, err)
		require.NotEmpty(t, result.Trades)
		assert.Equal(t, len(result.Trades), result.TotalTrades)
		assert.Equal(t, result.WonTrades+result.LostTrades, result.TotalTrades)
		for _, trade := range result.Trades {
			assert.True(t, trade.ExitTime.After(trade.EntryTime))
		}
	})

	t.Run("commission reduces final value", func(t *testing.T) {
		bars := barsFromCloses([]float64{100, 110, 120, 130, 140})

		free, err := eng.Evaluate(ctx, &Request{Strategy: "buyhold", Bars: bars, Cost: defaultCost()})
		require.NoError(t, err)

		cost := defaultCost()
		cost.Commission = decimal.NewFromFloat(0.01)
		taxed, err := eng.Evaluate(ctx, &Request{Strategy: "buyhold", Bars: bars, Cost: cost})
		require.NoError(t, err)

		assert.True(t, taxed.FinalValue.LessThan(free.FinalValue))
	})

	t.Run("entry slippage raises fill price", func(t *testing.T) {
		bars := barsFromCloses([]float64{100, 110, 120})

		plain, err := eng.Evaluate(ctx, &Request{Strategy: "buyhold", Bars: bars, Cost: defaultCost()})
		require.NoError(t, err)

		cost := defaultCost()
		cost.SlipPerc = decimal.NewFromFloat(0.01)
		slipped, err := eng.Evaluate(ctx, &Request{Strategy: "buyhold", Bars: bars, Cost: cost})
		require.NoError(t, err)

		assert.True(t, slipped.FinalValue.LessThan(plain.FinalValue))

		// 关闭开仓滑点后与无滑点一致
		cost.SlipOpen = false
		unslipped, err := eng.Evaluate(ctx, &Request{Strategy: "buyhold", Bars: bars, Cost: cost})
		require.NoError(t, err)
		assert.True(t, unslipped.FinalValue.Equal(plain.FinalValue))
	})

	t.Run("log stream ends with final portfolio value", func(t *testing.T) {
		var lines []string
		_, err := eng.Evaluate(ctx, &Request{
			Strategy: "buyhold",
			Bars:     barsFromCloses([]float64{100, 110}),
			Cost:     defaultCost(),
			Logf:     func(level, msg string) { lines = append(lines, msg) },
		})

		require.NoError(t, err)
		require.NotEmpty(t, lines)
		assert.True(t, strings.HasPrefix(lines[len(lines)-1], "Final Portfolio Value:"))
	})

	t.Run("progress reaches completion", func(t *testing.T) {
		var fracs []float64
		_, err := eng.Evaluate(ctx, &Request{
			Strategy:   "buyhold",
			Bars:       barsFromCloses([]float64{100, 101, 102, 103}),
			Cost:       defaultCost(),
			OnProgress: func(frac float64) { fracs = append(fracs, frac) },
		})

		require.NoError(t, err)
		require.NotEmpty(t, fracs)
		assert.InDelta(t, 1.0, fracs[len(fracs)-1], 1e-9)
		for i := 1; i < len(fracs); i++ {
			assert.GreaterOrEqual(t, fracs[i], fracs[i-1])
		}
	})

	t.Run("cancelled context aborts evaluation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := eng.Evaluate(cancelled, &Request{
			Strategy: "buyhold",
			Bars:     barsFromCloses([]float64{100, 110}),
			Cost:     defaultCost(),
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("default registry has builtin strategies", func(t *testing.T) {
		r := DefaultRegistry()
		assert.Equal(t, []string{"buyhold", "rsi", "sma"}, r.Available())
		assert.True(t, r.Has("SMA"))
		assert.False(t, r.Has("lstm"))
	})

	t.Run("lookup is case insensitive", func(t *testing.T) {
		r := DefaultRegistry()
		factory, err := r.Get(" Sma ")
		require.NoError(t, err)
		assert.NotNil(t, factory())
	})
}

func TestMaxDrawdown(t *testing.T) {
	curve := []decimal.Decimal{
		decimal.NewFromInt(100),
		decimal.NewFromInt(120),
		decimal.NewFromInt(90),
		decimal.NewFromInt(110),
	}
	// 峰值 120 回撤到 90
	assert.InDelta(t, 0.25, maxDrawdown(curve), 1e-9)
}
