package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/marketdata"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
)

type fakeBarReader struct {
	bars []engine.Bar
}

func (r *fakeBarReader) GetBars(ctx context.Context, instrumentID, timeframe string, since, until *time.Time) ([]engine.Bar, error) {
	return r.bars, nil
}

func (r *fakeBarReader) GetRange(ctx context.Context, instrumentID, timeframe string) (time.Time, time.Time, error) {
	if len(r.bars) == 0 {
		return time.Time{}, time.Time{}, marketdata.ErrEmptySeries
	}
	return r.bars[0].Timestamp, r.bars[len(r.bars)-1].Timestamp, nil
}

type fakeEvaluator struct {
	mu      sync.Mutex
	result  *engine.Result
	invoked []string
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	e.mu.Lock()
	e.invoked = append(e.invoked, req.Strategy)
	e.mu.Unlock()
	return e.result, nil
}

type fakeResultRepository struct {
	mu      sync.Mutex
	results []*domain.RunResult
}

func (r *fakeResultRepository) Add(ctx context.Context, result *domain.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *fakeResultRepository) ListByRun(ctx context.Context, runID int64) ([]*domain.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.RunResult{}, r.results...), nil
}

type fakeTradeRepository struct {
	mu     sync.Mutex
	trades []*domain.RunTrade
}

func (r *fakeTradeRepository) SaveAll(ctx context.Context, trades []*domain.RunTrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trades...)
	return nil
}

func (r *fakeTradeRepository) ListByRun(ctx context.Context, runID int64) ([]*domain.RunTrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.RunTrade{}, r.trades...), nil
}

func closedTradeResult() *engine.Result {
	entry := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &engine.Result{
		FinalValue:   decimal.NewFromInt(10500),
		PnL:          decimal.NewFromInt(500),
		ProfitFactor: 2.5,
		TotalTrades:  1,
		WonTrades:    1,
		Trades: []engine.Trade{{
			EntryTime:  entry,
			ExitTime:   entry.AddDate(0, 0, 5),
			EntryPrice: decimal.NewFromInt(100),
			ExitPrice:  decimal.NewFromInt(105),
			Size:       decimal.NewFromInt(5),
			PnL:        decimal.NewFromInt(500),
		}},
		EquityCurve: []decimal.Decimal{
			decimal.NewFromInt(10000),
			decimal.NewFromInt(10500),
		},
	}
}

func singleBar() []engine.Bar {
	return []engine.Bar{{
		InstrumentID: "BTC-USDT",
		Timestamp:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:         decimal.NewFromInt(100),
		High:         decimal.NewFromInt(101),
		Low:          decimal.NewFromInt(99),
		Close:        decimal.NewFromInt(100),
		Volume:       decimal.NewFromInt(1),
	}}
}

func TestProcessBacktest(t *testing.T) {
	ctx := context.Background()

	t.Run("persists closed trades and equity curve with main result", func(t *testing.T) {
		results := &fakeResultRepository{}
		trades := &fakeTradeRepository{}
		p := NewProcessor(
			&fakeEvaluator{result: closedTradeResult()},
			&fakeBarReader{bars: singleBar()},
			newFakeRunRepository(),
			results, nil, nil, trades,
			&fakeRunLogRepository{}, nil, 0,
		)
		run, err := domain.NewRun(77, domain.RunTypeBacktest, "sma", "BTC-USDT", "1d", nil)
		require.NoError(t, err)

		require.NoError(t, p.Process(ctx, run))

		require.Len(t, results.results, 1)
		main := results.results[0]
		assert.Equal(t, domain.LabelMain, main.Label)
		require.Len(t, main.Metrics.EquityCurve, 2)
		assert.True(t, main.Metrics.EquityCurve[1].Equal(decimal.NewFromInt(10500)))

		require.Len(t, trades.trades, 1)
		assert.Equal(t, int64(77), trades.trades[0].RunID)
		assert.True(t, trades.trades[0].PnL.Equal(decimal.NewFromInt(500)))
	})

	t.Run("baseline run adds buyhold result without trades", func(t *testing.T) {
		results := &fakeResultRepository{}
		trades := &fakeTradeRepository{}
		evaluator := &fakeEvaluator{result: closedTradeResult()}
		p := NewProcessor(
			evaluator,
			&fakeBarReader{bars: singleBar()},
			newFakeRunRepository(),
			results, nil, nil, trades,
			&fakeRunLogRepository{}, nil, 0,
		)
		run, err := domain.NewRun(78, domain.RunTypeBacktest, "sma", "BTC-USDT", "1d", nil)
		require.NoError(t, err)
		run.Baseline = true

		require.NoError(t, p.Process(ctx, run))

		require.Len(t, results.results, 2)
		assert.Equal(t, domain.LabelBaseline, results.results[1].Label)
		assert.Equal(t, []string{"sma", "buyhold"}, evaluator.invoked)
		// 基线对照不追加交易明细
		assert.Len(t, trades.trades, 1)
	})
}

func TestGridConcurrency(t *testing.T) {
	newRun := func(conc any) *domain.Run {
		params := map[string]any{}
		if conc != nil {
			params["max_concurrency"] = conc
		}
		run, err := domain.NewRun(1, domain.RunTypeOptimize, "sma", "BTC-USDT", "1d", params)
		require.NoError(t, err)
		return run
	}

	t.Run("request below cap passes through", func(t *testing.T) {
		p := &Processor{maxConcurrency: 8}
		assert.Equal(t, 4, p.gridConcurrency(newRun(float64(4))))
	})

	t.Run("request above cap is clamped", func(t *testing.T) {
		p := &Processor{maxConcurrency: 2}
		assert.Equal(t, 2, p.gridConcurrency(newRun(float64(8))))
	})

	t.Run("zero cap means unlimited", func(t *testing.T) {
		p := &Processor{}
		assert.Equal(t, 8, p.gridConcurrency(newRun(float64(8))))
	})

	t.Run("defaults to one without request", func(t *testing.T) {
		p := &Processor{maxConcurrency: 2}
		assert.Equal(t, 1, p.gridConcurrency(newRun(nil)))
	})
}
