// Package application 提供运行编排的应用服务：入队校验与查询装配
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/marketdata"
	"github.com/wyfcoding/quantbacktest/internal/optimizer"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/idgen"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// CostOverrides 入队请求中可选的成本模型覆盖项
type CostOverrides struct {
	Cash       *float64 `json:"cash"`
	Commission *float64 `json:"commission"`
	SlipPerc   *float64 `json:"slip_perc"`
	SlipFixed  *float64 `json:"slip_fixed"`
	SlipOpen   *bool    `json:"slip_open"`
}

// EnqueueRequest 入队请求
type EnqueueRequest struct {
	Strategy     string         `json:"strategy" binding:"required"`
	InstrumentID string         `json:"instrument_id" binding:"required"`
	Timeframe    string         `json:"timeframe" binding:"required"`
	Params       map[string]any `json:"params"`
	Baseline     bool           `json:"baseline"`
	Notes        string         `json:"notes"`
	Cost         CostOverrides  `json:"cost"`
}

// CommandService 运行入队服务。请求在入队前做全部静态校验，
// 校验失败的任务不会进入队列。
type CommandService struct {
	runs       domain.RunRepository
	bars       marketdata.BarReader
	strategies *engine.Registry
	publisher  domain.EventPublisher
}

// NewCommandService 创建入队服务
func NewCommandService(runs domain.RunRepository, bars marketdata.BarReader, strategies *engine.Registry, publisher domain.EventPublisher) *CommandService {
	if publisher == nil {
		publisher = domain.NopPublisher{}
	}
	return &CommandService{runs: runs, bars: bars, strategies: strategies, publisher: publisher}
}

// EnqueueBacktest 提交一次回测
func (s *CommandService) EnqueueBacktest(ctx context.Context, req *EnqueueRequest) (*domain.Run, error) {
	return s.enqueue(ctx, domain.RunTypeBacktest, req)
}

// EnqueueOptimize 提交一次参数寻优。网格与目标在入队时即校验
func (s *CommandService) EnqueueOptimize(ctx context.Context, req *EnqueueRequest) (*domain.Run, error) {
	params := domain.RunParams(req.Params)
	if _, err := optimizer.ParseGridSpec(params.GridSpec()); err != nil {
		return nil, fmt.Errorf("invalid grid_spec: %w", err)
	}
	if _, err := optimizer.ParseObjective(params.Objective()); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, domain.RunTypeOptimize, req)
}

// EnqueueWalkForward 提交一次滚动优化
func (s *CommandService) EnqueueWalkForward(ctx context.Context, req *EnqueueRequest) (*domain.Run, error) {
	params := domain.RunParams(req.Params)
	if _, err := optimizer.ParseGridSpec(params.GridSpec()); err != nil {
		return nil, fmt.Errorf("invalid grid_spec: %w", err)
	}
	if _, err := optimizer.ParseObjective(params.Objective()); err != nil {
		return nil, err
	}
	if params.TrainMonths() <= 0 || params.TestMonths() <= 0 || params.StepMonths() <= 0 {
		return nil, fmt.Errorf("train_months, test_months and step_months must be positive")
	}
	return s.enqueue(ctx, domain.RunTypeWalkForward, req)
}

func (s *CommandService) enqueue(ctx context.Context, runType domain.RunType, req *EnqueueRequest) (*domain.Run, error) {
	if !s.strategies.Has(req.Strategy) {
		return nil, fmt.Errorf("unknown strategy %q, available: %v", req.Strategy, s.strategies.Available())
	}

	// 没有任何数据的序列在入队时即拒绝，不让必然失败的任务进队列
	if _, _, err := s.bars.GetRange(ctx, req.InstrumentID, req.Timeframe); err != nil {
		if errors.Is(err, marketdata.ErrEmptySeries) {
			return nil, fmt.Errorf("no candle data for %s/%s", req.InstrumentID, req.Timeframe)
		}
		return nil, fmt.Errorf("check series range: %w", err)
	}

	run, err := domain.NewRun(idgen.GenID(), runType, req.Strategy, req.InstrumentID, req.Timeframe, req.Params)
	if err != nil {
		return nil, err
	}
	run.Baseline = req.Baseline
	run.Notes = req.Notes
	applyCostOverrides(run, req.Cost)

	if err := s.runs.Enqueue(ctx, run); err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}

	event := &domain.RunEvent{
		RunID:      run.ID,
		RunType:    run.RunType,
		Status:     domain.StatusQueued,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishRunEvent(ctx, event); err != nil {
		logger.Warn(ctx, "Failed to publish queued event", "run_id", run.ID, "error", err)
	}

	logger.Info(ctx, "Run enqueued",
		"run_id", run.ID, "run_type", runType,
		"strategy", req.Strategy, "instrument_id", req.InstrumentID)
	return run, nil
}

func applyCostOverrides(run *domain.Run, cost CostOverrides) {
	if cost.Cash != nil {
		run.Cash = decimal.NewFromFloat(*cost.Cash)
	}
	if cost.Commission != nil {
		run.Commission = decimal.NewFromFloat(*cost.Commission)
	}
	if cost.SlipPerc != nil {
		run.SlipPerc = decimal.NewFromFloat(*cost.SlipPerc)
	}
	if cost.SlipFixed != nil {
		run.SlipFixed = decimal.NewFromFloat(*cost.SlipFixed)
	}
	if cost.SlipOpen != nil {
		run.SlipOpen = *cost.SlipOpen
	}
}
