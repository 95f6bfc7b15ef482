package mysql

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
)

// RunModel 运行任务数据库模型
type RunModel struct {
	ID           int64      `gorm:"column:id;primaryKey"`
	RunType      string     `gorm:"column:run_type;type:varchar(20);index;not null"`
	Status       string     `gorm:"column:status;type:varchar(20);index;not null;default:'queued'"`
	Progress     int        `gorm:"column:progress;not null;default:0"`
	Strategy     string     `gorm:"column:strategy;type:varchar(50);not null"`
	InstrumentID string     `gorm:"column:instrument_id;type:varchar(30);not null"`
	Timeframe    string     `gorm:"column:timeframe;type:varchar(10);not null"`
	Params       string     `gorm:"column:params;type:json"`
	Cash         string     `gorm:"column:cash;type:decimal(30,8)"`
	Commission   string     `gorm:"column:commission;type:decimal(18,8)"`
	SlipPerc     string     `gorm:"column:slip_perc;type:decimal(18,8)"`
	SlipFixed    string     `gorm:"column:slip_fixed;type:decimal(18,8)"`
	SlipOpen     bool       `gorm:"column:slip_open"`
	Baseline     bool       `gorm:"column:baseline"`
	StartedAt    time.Time  `gorm:"column:started_at;index;not null"`
	EndedAt      *time.Time `gorm:"column:ended_at"`
	Error        string     `gorm:"column:error;type:text"`
	Notes        string     `gorm:"column:notes;type:text"`
}

func (RunModel) TableName() string { return "run_headers" }

// RunResultModel 运行结果数据库模型
type RunResultModel struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	RunID    int64  `gorm:"column:run_id;index;not null"`
	Label    string `gorm:"column:label;type:varchar(50);not null"`
	Params   string `gorm:"column:params;type:json"`
	Metrics  string `gorm:"column:metrics;type:json"`
	PlotPath string `gorm:"column:plot_path;type:text"`
}

func (RunResultModel) TableName() string { return "run_results" }

// OptimizationVariantModel 网格点评估结果数据库模型
type OptimizationVariantModel struct {
	ID            int64     `gorm:"column:id;primaryKey"`
	RunID         int64     `gorm:"column:run_id;index;not null"`
	VariantParams string    `gorm:"column:variant_params;type:json;not null"`
	FinalValue    string    `gorm:"column:final_value;type:decimal(30,8)"`
	Sharpe        float64   `gorm:"column:sharpe;type:double"`
	MaxDD         float64   `gorm:"column:maxdd;type:double"`
	WinRate       float64   `gorm:"column:winrate;type:double"`
	ProfitFactor  float64   `gorm:"column:profit_factor;type:double"`
	SQN           float64   `gorm:"column:sqn;type:double"`
	TotalTrades   int       `gorm:"column:total_trades"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (OptimizationVariantModel) TableName() string { return "optimization_results" }

// WfoFoldModel 滚动优化折数据库模型
type WfoFoldModel struct {
	ID             int64     `gorm:"column:id;primaryKey"`
	RunID          int64     `gorm:"column:run_id;index;not null"`
	FoldIndex      int       `gorm:"column:fold_index;not null"`
	TrainStart     time.Time `gorm:"column:train_start;not null"`
	TrainEnd       time.Time `gorm:"column:train_end;not null"`
	TestStart      time.Time `gorm:"column:test_start;not null"`
	TestEnd        time.Time `gorm:"column:test_end;not null"`
	Params         string    `gorm:"column:params;type:json"`
	TrainObjective float64   `gorm:"column:train_objective;type:decimal(30,8)"`
	Metrics        string    `gorm:"column:metrics;type:json"`
}

func (WfoFoldModel) TableName() string { return "wfo_folds" }

// RunTradeModel 已平仓交易数据库模型
type RunTradeModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      int64     `gorm:"column:run_id;index;not null"`
	EntryTime  time.Time `gorm:"column:entry_time;not null"`
	ExitTime   time.Time `gorm:"column:exit_time;not null"`
	EntryPrice string    `gorm:"column:entry_price;type:decimal(30,8)"`
	ExitPrice  string    `gorm:"column:exit_price;type:decimal(30,8)"`
	Size       string    `gorm:"column:size;type:decimal(30,8)"`
	PnL        string    `gorm:"column:pnl;type:decimal(30,8)"`
}

func (RunTradeModel) TableName() string { return "run_trades" }

// RunLogModel 运行日志数据库模型
type RunLogModel struct {
	ID      int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID   int64     `gorm:"column:run_id;index:ix_run_logs_run_ts;not null"`
	Ts      time.Time `gorm:"column:ts;index:ix_run_logs_run_ts;not null"`
	Level   string    `gorm:"column:level;type:varchar(10);not null;default:'INFO'"`
	Message string    `gorm:"column:message;type:text;not null"`
}

func (RunLogModel) TableName() string { return "run_logs" }

// mapping helpers

func toRunModel(r *domain.Run) (*RunModel, error) {
	if r == nil {
		return nil, nil
	}
	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, err
	}
	return &RunModel{
		ID:           r.ID,
		RunType:      string(r.RunType),
		Status:       string(r.Status),
		Progress:     r.Progress,
		Strategy:     r.StrategyName,
		InstrumentID: r.InstrumentID,
		Timeframe:    r.Timeframe,
		Params:       string(params),
		Cash:         r.Cash.String(),
		Commission:   r.Commission.String(),
		SlipPerc:     r.SlipPerc.String(),
		SlipFixed:    r.SlipFixed.String(),
		SlipOpen:     r.SlipOpen,
		Baseline:     r.Baseline,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Error:        r.Error,
		Notes:        r.Notes,
	}, nil
}

func toRun(m *RunModel) (*domain.Run, error) {
	if m == nil {
		return nil, nil
	}
	params := domain.RunParams{}
	if m.Params != "" {
		if err := json.Unmarshal([]byte(m.Params), &params); err != nil {
			return nil, err
		}
	}
	cash, err := decimal.NewFromString(nonEmpty(m.Cash))
	if err != nil {
		return nil, err
	}
	commission, err := decimal.NewFromString(nonEmpty(m.Commission))
	if err != nil {
		return nil, err
	}
	slipPerc, err := decimal.NewFromString(nonEmpty(m.SlipPerc))
	if err != nil {
		return nil, err
	}
	slipFixed, err := decimal.NewFromString(nonEmpty(m.SlipFixed))
	if err != nil {
		return nil, err
	}

	return &domain.Run{
		ID:           m.ID,
		RunType:      domain.RunType(m.RunType),
		Status:       domain.RunStatus(m.Status),
		Progress:     m.Progress,
		StrategyName: m.Strategy,
		InstrumentID: m.InstrumentID,
		Timeframe:    m.Timeframe,
		Params:       params,
		Cash:         cash,
		Commission:   commission,
		SlipPerc:     slipPerc,
		SlipFixed:    slipFixed,
		SlipOpen:     m.SlipOpen,
		Baseline:     m.Baseline,
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
		Error:        m.Error,
		Notes:        m.Notes,
	}, nil
}

func nonEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func toRunResultModel(r *domain.RunResult) (*RunResultModel, error) {
	if r == nil {
		return nil, nil
	}
	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, err
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return nil, err
	}
	return &RunResultModel{
		ID:       r.ID,
		RunID:    r.RunID,
		Label:    string(r.Label),
		Params:   string(params),
		Metrics:  string(metrics),
		PlotPath: r.PlotPath,
	}, nil
}

func toRunResult(m *RunResultModel) (*domain.RunResult, error) {
	if m == nil {
		return nil, nil
	}
	result := &domain.RunResult{
		ID:       m.ID,
		RunID:    m.RunID,
		Label:    domain.ResultLabel(m.Label),
		PlotPath: m.PlotPath,
	}
	if m.Params != "" {
		if err := json.Unmarshal([]byte(m.Params), &result.Params); err != nil {
			return nil, err
		}
	}
	if m.Metrics != "" {
		if err := json.Unmarshal([]byte(m.Metrics), &result.Metrics); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func toOptimizationVariantModel(v *domain.OptimizationVariant) (*OptimizationVariantModel, error) {
	if v == nil {
		return nil, nil
	}
	params, err := json.Marshal(v.VariantParams)
	if err != nil {
		return nil, err
	}
	return &OptimizationVariantModel{
		ID:            v.ID,
		RunID:         v.RunID,
		VariantParams: string(params),
		FinalValue:    v.FinalValue.String(),
		Sharpe:        domain.Finite(v.Sharpe),
		MaxDD:         domain.Finite(v.MaxDD),
		WinRate:       domain.Finite(v.WinRate),
		ProfitFactor:  domain.Finite(v.ProfitFactor),
		SQN:           domain.Finite(v.SQN),
		TotalTrades:   v.TotalTrades,
		CreatedAt:     v.CreatedAt,
	}, nil
}

func toOptimizationVariant(m *OptimizationVariantModel) (*domain.OptimizationVariant, error) {
	if m == nil {
		return nil, nil
	}
	finalValue, err := decimal.NewFromString(nonEmpty(m.FinalValue))
	if err != nil {
		return nil, err
	}
	variant := &domain.OptimizationVariant{
		ID:           m.ID,
		RunID:        m.RunID,
		FinalValue:   finalValue,
		Sharpe:       m.Sharpe,
		MaxDD:        m.MaxDD,
		WinRate:      m.WinRate,
		ProfitFactor: m.ProfitFactor,
		SQN:          m.SQN,
		TotalTrades:  m.TotalTrades,
		CreatedAt:    m.CreatedAt,
	}
	if m.VariantParams != "" {
		if err := json.Unmarshal([]byte(m.VariantParams), &variant.VariantParams); err != nil {
			return nil, err
		}
	}
	return variant, nil
}

func toWfoFoldModel(f *domain.WfoFold) (*WfoFoldModel, error) {
	if f == nil {
		return nil, nil
	}
	params, err := json.Marshal(f.Params)
	if err != nil {
		return nil, err
	}
	metrics, err := json.Marshal(f.Metrics)
	if err != nil {
		return nil, err
	}
	return &WfoFoldModel{
		ID:             f.ID,
		RunID:          f.RunID,
		FoldIndex:      f.FoldIndex,
		TrainStart:     f.TrainStart,
		TrainEnd:       f.TrainEnd,
		TestStart:      f.TestStart,
		TestEnd:        f.TestEnd,
		Params:         string(params),
		TrainObjective: f.TrainObjective,
		Metrics:        string(metrics),
	}, nil
}

func toWfoFold(m *WfoFoldModel) (*domain.WfoFold, error) {
	if m == nil {
		return nil, nil
	}
	fold := &domain.WfoFold{
		ID:             m.ID,
		RunID:          m.RunID,
		FoldIndex:      m.FoldIndex,
		TrainStart:     m.TrainStart,
		TrainEnd:       m.TrainEnd,
		TestStart:      m.TestStart,
		TestEnd:        m.TestEnd,
		TrainObjective: m.TrainObjective,
	}
	if m.Params != "" {
		if err := json.Unmarshal([]byte(m.Params), &fold.Params); err != nil {
			return nil, err
		}
	}
	if m.Metrics != "" {
		if err := json.Unmarshal([]byte(m.Metrics), &fold.Metrics); err != nil {
			return nil, err
		}
	}
	return fold, nil
}

func toRunTradeModel(t *domain.RunTrade) *RunTradeModel {
	if t == nil {
		return nil
	}
	return &RunTradeModel{
		ID:         t.ID,
		RunID:      t.RunID,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		EntryPrice: t.EntryPrice.String(),
		ExitPrice:  t.ExitPrice.String(),
		Size:       t.Size.String(),
		PnL:        t.PnL.String(),
	}
}

func toRunTrade(m *RunTradeModel) (*domain.RunTrade, error) {
	if m == nil {
		return nil, nil
	}
	entryPrice, err := decimal.NewFromString(nonEmpty(m.EntryPrice))
	if err != nil {
		return nil, err
	}
	exitPrice, err := decimal.NewFromString(nonEmpty(m.ExitPrice))
	if err != nil {
		return nil, err
	}
	size, err := decimal.NewFromString(nonEmpty(m.Size))
	if err != nil {
		return nil, err
	}
	pnl, err := decimal.NewFromString(nonEmpty(m.PnL))
	if err != nil {
		return nil, err
	}
	return &domain.RunTrade{
		ID:         m.ID,
		RunID:      m.RunID,
		EntryTime:  m.EntryTime,
		ExitTime:   m.ExitTime,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Size:       size,
		PnL:        pnl,
	}, nil
}

func toRunLogModel(e *domain.RunLogEntry) *RunLogModel {
	if e == nil {
		return nil
	}
	return &RunLogModel{
		ID:      e.ID,
		RunID:   e.RunID,
		Ts:      e.Ts,
		Level:   e.Level,
		Message: e.Message,
	}
}

func toRunLogEntry(m *RunLogModel) *domain.RunLogEntry {
	if m == nil {
		return nil
	}
	return &domain.RunLogEntry{
		ID:      m.ID,
		RunID:   m.RunID,
		Ts:      m.Ts,
		Level:   m.Level,
		Message: m.Message,
	}
}
