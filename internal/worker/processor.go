package worker

import (
	"context"
	"fmt"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/marketdata"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
)

// Processor 按运行类型执行一条已认领的任务
type Processor struct {
	evaluator engine.Evaluator
	bars      marketdata.BarReader
	runs      domain.RunRepository
	results   domain.RunResultRepository
	variants  domain.OptimizationVariantRepository
	folds     domain.WfoFoldRepository
	trades    domain.RunTradeRepository
	runLogs   domain.RunLogRepository
	metrics   *metrics.Metrics
	// maxConcurrency 进程级并发上限，钳制单次运行请求的 max_concurrency
	maxConcurrency int
}

// NewProcessor 创建任务处理器；maxConcurrency <= 0 表示不设进程级上限
func NewProcessor(
	evaluator engine.Evaluator,
	bars marketdata.BarReader,
	runs domain.RunRepository,
	results domain.RunResultRepository,
	variants domain.OptimizationVariantRepository,
	folds domain.WfoFoldRepository,
	trades domain.RunTradeRepository,
	runLogs domain.RunLogRepository,
	m *metrics.Metrics,
	maxConcurrency int,
) *Processor {
	return &Processor{
		evaluator:      evaluator,
		bars:           bars,
		runs:           runs,
		results:        results,
		variants:       variants,
		folds:          folds,
		trades:         trades,
		runLogs:        runLogs,
		metrics:        m,
		maxConcurrency: maxConcurrency,
	}
}

// Process 分派到对应的处理器
func (p *Processor) Process(ctx context.Context, run *domain.Run) error {
	defer logger.LogDuration(ctx, "Run processing finished", "run_type", run.RunType)()
	switch run.RunType {
	case domain.RunTypeBacktest:
		return p.processBacktest(ctx, run)
	case domain.RunTypeOptimize:
		return p.processOptimize(ctx, run)
	case domain.RunTypeWalkForward:
		return p.processWalkForward(ctx, run)
	}
	return fmt.Errorf("unsupported run type %q", run.RunType)
}

// loadBars 按运行记录的时间区间读取 K 线序列
func (p *Processor) loadBars(ctx context.Context, run *domain.Run) ([]engine.Bar, error) {
	bars, err := p.bars.GetBars(ctx, run.InstrumentID, run.Timeframe, run.Params.StartTs(), run.Params.EndTs())
	if err != nil {
		return nil, fmt.Errorf("load bars for %s/%s: %w", run.InstrumentID, run.Timeframe, err)
	}
	if len(bars) == 0 {
		return nil, engine.ErrNoData
	}
	return bars, nil
}

// costModel 从运行记录构造成本模型
func costModel(run *domain.Run) engine.CostModel {
	return engine.CostModel{
		Cash:       run.Cash,
		Commission: run.Commission,
		SlipPerc:   run.SlipPerc,
		SlipFixed:  run.SlipFixed,
		SlipOpen:   run.SlipOpen,
	}
}

// toMetrics 把评估结果折算为可落库的指标文档
func toMetrics(result *engine.Result) domain.Metrics {
	return domain.Metrics{
		FinalValue:   result.FinalValue,
		PnL:          result.PnL,
		Sharpe:       result.Sharpe,
		MaxDrawdown:  result.MaxDrawdown,
		SQN:          result.SQN,
		WinRate:      result.WinRate,
		ProfitFactor: result.ProfitFactor,
		TotalTrades:  result.TotalTrades,
		WonTrades:    result.WonTrades,
		LostTrades:   result.LostTrades,
	}
}

// gridConcurrency 取运行请求的 max_concurrency，并钳制到进程级上限
func (p *Processor) gridConcurrency(run *domain.Run) int {
	conc := run.Params.MaxConcurrency()
	if p.maxConcurrency > 0 && conc > p.maxConcurrency {
		conc = p.maxConcurrency
	}
	if conc < 1 {
		conc = 1
	}
	return conc
}

// toRunTrades 把引擎产出的已平仓交易折算为可落库的记录
func toRunTrades(runID int64, trades []engine.Trade) []*domain.RunTrade {
	records := make([]*domain.RunTrade, 0, len(trades))
	for _, t := range trades {
		records = append(records, &domain.RunTrade{
			RunID:      runID,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Size:       t.Size,
			PnL:        t.PnL,
		})
	}
	return records
}

// evaluate 一次带指标计数的引擎调用
func (p *Processor) evaluate(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	if p.metrics != nil {
		p.metrics.EvaluationsTotal.Inc()
	}
	return p.evaluator.Evaluate(ctx, req)
}
