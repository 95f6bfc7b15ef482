package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/optimizer"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// processOptimize 参数寻优：展开网格并发评估，逐点落库，最优组合作为主结果
func (p *Processor) processOptimize(ctx context.Context, run *domain.Run) error {
	grid, err := optimizer.ParseGridSpec(run.Params.GridSpec())
	if err != nil {
		return fmt.Errorf("parse grid spec: %w", err)
	}
	objective, err := optimizer.ParseObjective(run.Params.Objective())
	if err != nil {
		return err
	}
	constraint := optimizer.NewConstraint(run.Params.Constraint())

	combos := grid.Combos(constraint)
	if len(combos) == 0 {
		return fmt.Errorf("grid %q yields no combination after constraint %q", run.Params.GridSpec(), constraint.Raw())
	}

	bars, err := p.loadBars(ctx, run)
	if err != nil {
		return err
	}

	runLog := NewRunLogWriter(p.runLogs, run.ID)
	progress := NewProgressReporter(p.runs, run.ID)
	report := progress.Report(ctx)
	logf := runLog.Logf(ctx)
	logf("info", fmt.Sprintf("Optimization started: %d combinations, objective=%s", len(combos), objective))

	var done atomic.Int64
	evaluate := func(ctx context.Context, params map[string]float64, bars []engine.Bar) (*engine.Result, error) {
		result, err := p.evaluate(ctx, &engine.Request{
			Strategy:  run.StrategyName,
			Params:    params,
			Bars:      bars,
			Cost:      costModel(run),
			Timeframe: run.Timeframe,
		})
		report(float64(done.Add(1)) / float64(len(combos)))
		return result, err
	}

	best, _, err := optimizer.GridSearch(ctx, combos, bars, objective, evaluate, p.gridConcurrency(run),
		func(cand *optimizer.Candidate) {
			if cand.Err != nil {
				logf("warn", fmt.Sprintf("Combination %v failed: %v", cand.Params, cand.Err))
				return
			}
			variant := &domain.OptimizationVariant{
				RunID:         run.ID,
				VariantParams: cand.Params,
				FinalValue:    cand.Result.FinalValue,
				Sharpe:        cand.Result.Sharpe,
				MaxDD:         cand.Result.MaxDrawdown,
				WinRate:       cand.Result.WinRate,
				ProfitFactor:  cand.Result.ProfitFactor,
				SQN:           cand.Result.SQN,
				TotalTrades:   cand.Result.TotalTrades,
			}
			if err := p.variants.Add(ctx, variant); err != nil {
				logger.Warn(ctx, "Failed to persist optimization variant", "params", cand.Params, "error", err)
			}
		})
	if err != nil {
		return err
	}
	if best == nil {
		return fmt.Errorf("no grid combination evaluated successfully")
	}

	logf("info", fmt.Sprintf("Best combination %v with %s=%.6f", best.Params, objective, best.Objective))

	bestParams := domain.RunParams{}
	for k, v := range best.Params {
		bestParams[k] = v
	}
	mainResult := &domain.RunResult{
		RunID:   run.ID,
		Label:   domain.LabelMain,
		Params:  bestParams,
		Metrics: toMetrics(best.Result),
	}
	if err := p.results.Add(ctx, mainResult); err != nil {
		return fmt.Errorf("persist best result: %w", err)
	}

	logger.Info(ctx, "Optimization completed",
		"combos", len(combos), "best_params", best.Params, "objective", best.Objective)
	return nil
}
