package worker

import (
	"context"
	"fmt"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// processBacktest 单次回测：评估主策略，按需追加 buyhold 基线对照
func (p *Processor) processBacktest(ctx context.Context, run *domain.Run) error {
	bars, err := p.loadBars(ctx, run)
	if err != nil {
		return err
	}

	runLog := NewRunLogWriter(p.runLogs, run.ID)
	progress := NewProgressReporter(p.runs, run.ID)
	params := run.Params.StrategyParams()

	result, err := p.evaluate(ctx, &engine.Request{
		Strategy:   run.StrategyName,
		Params:     params,
		Bars:       bars,
		Cost:       costModel(run),
		Timeframe:  run.Timeframe,
		Logf:       runLog.Logf(ctx),
		OnProgress: progress.Report(ctx),
	})
	if err != nil {
		return fmt.Errorf("evaluate strategy %s: %w", run.StrategyName, err)
	}

	mainMetrics := toMetrics(result)
	mainMetrics.EquityCurve = result.EquityCurve
	mainResult := &domain.RunResult{
		RunID:   run.ID,
		Label:   domain.LabelMain,
		Params:  run.Params,
		Metrics: mainMetrics,
	}
	if err := p.results.Add(ctx, mainResult); err != nil {
		return fmt.Errorf("persist main result: %w", err)
	}
	if err := p.trades.SaveAll(ctx, toRunTrades(run.ID, result.Trades)); err != nil {
		return fmt.Errorf("persist trades: %w", err)
	}

	if run.Baseline {
		baseline, err := p.evaluate(ctx, &engine.Request{
			Strategy:  "buyhold",
			Params:    map[string]float64{},
			Bars:      bars,
			Cost:      costModel(run),
			Timeframe: run.Timeframe,
		})
		if err != nil {
			// 基线失败不拖垮主结果
			logger.Warn(ctx, "Baseline evaluation failed", "error", err)
		} else {
			baselineResult := &domain.RunResult{
				RunID:   run.ID,
				Label:   domain.LabelBaseline,
				Params:  domain.RunParams{},
				Metrics: toMetrics(baseline),
			}
			if err := p.results.Add(ctx, baselineResult); err != nil {
				return fmt.Errorf("persist baseline result: %w", err)
			}
		}
	}

	logger.Info(ctx, "Backtest completed",
		"strategy", run.StrategyName,
		"final_value", result.FinalValue.String(),
		"trades", result.TotalTrades)
	return nil
}
