package mysql

import (
	"context"
	"database/sql/driver"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gdb, mock
}

func runHeaderColumns() []string {
	return []string{
		"id", "run_type", "status", "progress", "strategy", "instrument_id", "timeframe",
		"params", "cash", "commission", "slip_perc", "slip_fixed", "slip_open", "baseline",
		"started_at", "ended_at", "error", "notes",
	}
}

func queuedRow(id int64, startedAt time.Time) []driver.Value {
	return []driver.Value{
		id, "backtest", "queued", 0, "sma", "BTC-USDT", "1d",
		`{"fast":10}`, "10000", "0.001", "0", "0", true, false,
		startedAt, nil, "", "",
	}
}

func TestFetchNextQueued(t *testing.T) {
	ctx := context.Background()

	t.Run("claims earliest queued run with skip locked", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)
		startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM `run_headers` WHERE status = (.+) ORDER BY started_at ASC(.+)FOR UPDATE SKIP LOCKED").
			WillReturnRows(sqlmock.NewRows(runHeaderColumns()).AddRow(queuedRow(101, startedAt)...))
		mock.ExpectExec("UPDATE `run_headers` SET").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		run, err := repo.FetchNextQueued(ctx)

		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, int64(101), run.ID)
		assert.Equal(t, domain.StatusRunning, run.Status)
		assert.Equal(t, 1, run.Progress)
		assert.Equal(t, domain.RunTypeBacktest, run.RunType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil when queue is empty", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM `run_headers`").
			WillReturnRows(sqlmock.NewRows(runHeaderColumns()))
		mock.ExpectCommit()

		run, err := repo.FetchNextQueued(ctx)

		require.NoError(t, err)
		assert.Nil(t, run)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal status also writes ended_at", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectExec("UPDATE `run_headers` SET `ended_at`").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateStatus(ctx, 101, domain.StatusSucceeded, 100, "")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("running progress update leaves ended_at alone", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectExec("UPDATE `run_headers` SET `error`").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateStatus(ctx, 101, domain.StatusRunning, 42, "")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing run yields ErrRunNotFound", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectExec("UPDATE `run_headers` SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT `status` FROM `run_headers`").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		err := repo.UpdateStatus(ctx, 999, domain.StatusFailed, 0, "boom")

		assert.ErrorIs(t, err, domain.ErrRunNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unchanged row is not treated as missing", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectExec("UPDATE `run_headers` SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT `status` FROM `run_headers`").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))

		err := repo.UpdateStatus(ctx, 101, domain.StatusRunning, 1, "")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal run cannot go back to running", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectExec("UPDATE `run_headers` SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT `status` FROM `run_headers`").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("succeeded"))

		err := repo.UpdateStatus(ctx, 101, domain.StatusRunning, 50, "")

		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status guard restricts update to legal predecessors", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectExec("UPDATE `run_headers` SET (.+)status IN").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateStatus(ctx, 101, domain.StatusFailed, 100, "boom")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCountByStatus(t *testing.T) {
	t.Run("maps grouped counts to queued and running", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectQuery("SELECT status, count(.+) FROM `run_headers`").
			WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).
				AddRow("queued", 7).
				AddRow("running", 3))

		queued, running, err := repo.CountByStatus(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(7), queued)
		assert.Equal(t, int64(3), running)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero counts on empty table", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewRunRepository(gdb)

		mock.ExpectQuery("SELECT status, count(.+) FROM `run_headers`").
			WillReturnRows(sqlmock.NewRows([]string{"status", "n"}))

		queued, running, err := repo.CountByStatus(context.Background())

		require.NoError(t, err)
		assert.Zero(t, queued)
		assert.Zero(t, running)
	})
}

func TestRunModelRoundTrip(t *testing.T) {
	t.Run("run survives model mapping", func(t *testing.T) {
		run, err := domain.NewRun(55, domain.RunTypeOptimize, "rsi", "ETH-USDT", "4h", domain.RunParams{
			"grid_spec":  "period=10:20:2",
			"constraint": "period > 10",
			"objective":  "sharpe",
		})
		require.NoError(t, err)
		run.Notes = "weekly sweep"

		model, err := toRunModel(run)
		require.NoError(t, err)
		back, err := toRun(model)
		require.NoError(t, err)

		assert.Equal(t, run.ID, back.ID)
		assert.Equal(t, run.RunType, back.RunType)
		assert.Equal(t, run.Status, back.Status)
		assert.Equal(t, "period=10:20:2", back.Params.GridSpec())
		assert.Equal(t, "sharpe", back.Params.Objective())
		assert.True(t, run.Cash.Equal(back.Cash))
		assert.Equal(t, run.Notes, back.Notes)
	})

	t.Run("empty decimal columns default to zero", func(t *testing.T) {
		model := &RunModel{ID: 1, RunType: "backtest", Status: "queued", Cash: "", Commission: ""}

		run, err := toRun(model)

		require.NoError(t, err)
		assert.True(t, run.Cash.IsZero())
		assert.True(t, run.Commission.IsZero())
	})
}

func TestMetricsPersistence(t *testing.T) {
	t.Run("loss-free profit factor still reaches the json column", func(t *testing.T) {
		result := &domain.RunResult{
			RunID: 7,
			Label: domain.LabelMain,
			Metrics: domain.Metrics{
				ProfitFactor: math.Inf(1),
				TotalTrades:  1,
				WonTrades:    1,
			},
		}

		model, err := toRunResultModel(result)

		require.NoError(t, err)
		back, err := toRunResult(model)
		require.NoError(t, err)
		assert.Equal(t, math.MaxFloat64, back.Metrics.ProfitFactor)
		assert.Equal(t, 1, back.Metrics.WonTrades)
	})

	t.Run("fold metrics tolerate non-finite values", func(t *testing.T) {
		fold := &domain.WfoFold{
			RunID:     7,
			FoldIndex: 0,
			Metrics:   domain.Metrics{ProfitFactor: math.Inf(1), Sharpe: math.NaN()},
		}

		model, err := toWfoFoldModel(fold)

		require.NoError(t, err)
		back, err := toWfoFold(model)
		require.NoError(t, err)
		assert.Equal(t, math.MaxFloat64, back.Metrics.ProfitFactor)
		assert.Zero(t, back.Metrics.Sharpe)
	})

	t.Run("variant float columns are clamped to finite values", func(t *testing.T) {
		variant := &domain.OptimizationVariant{RunID: 7, ProfitFactor: math.Inf(1), Sharpe: 1.2}

		model, err := toOptimizationVariantModel(variant)

		require.NoError(t, err)
		assert.Equal(t, math.MaxFloat64, model.ProfitFactor)
		assert.Equal(t, 1.2, model.Sharpe)
	})

	t.Run("equity curve survives the metrics document", func(t *testing.T) {
		result := &domain.RunResult{
			RunID: 7,
			Label: domain.LabelMain,
			Metrics: domain.Metrics{
				EquityCurve: []decimal.Decimal{
					decimal.NewFromInt(10000),
					decimal.NewFromInt(10100),
				},
			},
		}

		model, err := toRunResultModel(result)

		require.NoError(t, err)
		back, err := toRunResult(model)
		require.NoError(t, err)
		require.Len(t, back.Metrics.EquityCurve, 2)
		assert.True(t, back.Metrics.EquityCurve[1].Equal(decimal.NewFromInt(10100)))
	})
}

func TestRunTradeRoundTrip(t *testing.T) {
	t.Run("trade survives model mapping", func(t *testing.T) {
		entry := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		trade := &domain.RunTrade{
			RunID:      9,
			EntryTime:  entry,
			ExitTime:   entry.AddDate(0, 0, 2),
			EntryPrice: decimal.NewFromInt(100),
			ExitPrice:  decimal.NewFromInt(110),
			Size:       decimal.NewFromFloat(0.5),
			PnL:        decimal.NewFromInt(5),
		}

		model := toRunTradeModel(trade)
		back, err := toRunTrade(model)

		require.NoError(t, err)
		assert.Equal(t, trade.RunID, back.RunID)
		assert.True(t, trade.EntryPrice.Equal(back.EntryPrice))
		assert.True(t, trade.Size.Equal(back.Size))
		assert.True(t, trade.PnL.Equal(back.PnL))
	})
}
