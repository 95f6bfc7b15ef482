package worker

import (
	"context"
	"fmt"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/optimizer"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// processWalkForward 滚动优化：逐窗口训练选参、样本外评估，折记录落库，
// 汇总写入运行日志。序列太短产生零折不算失败。
func (p *Processor) processWalkForward(ctx context.Context, run *domain.Run) error {
	grid, err := optimizer.ParseGridSpec(run.Params.GridSpec())
	if err != nil {
		return fmt.Errorf("parse grid spec: %w", err)
	}
	objective, err := optimizer.ParseObjective(run.Params.Objective())
	if err != nil {
		return err
	}

	bars, err := p.loadBars(ctx, run)
	if err != nil {
		return err
	}

	runLog := NewRunLogWriter(p.runLogs, run.ID)
	progress := NewProgressReporter(p.runs, run.ID)
	logf := runLog.Logf(ctx)

	wf := &optimizer.WalkForward{
		Grid:           grid,
		Constraint:     optimizer.NewConstraint(run.Params.Constraint()),
		Objective:      objective,
		TrainMonths:    run.Params.TrainMonths(),
		TestMonths:     run.Params.TestMonths(),
		StepMonths:     run.Params.StepMonths(),
		MaxConcurrency: p.gridConcurrency(run),
		TopN:           run.Params.TopN(),
		Evaluate: func(ctx context.Context, params map[string]float64, slice []engine.Bar) (*engine.Result, error) {
			return p.evaluate(ctx, &engine.Request{
				Strategy:  run.StrategyName,
				Params:    params,
				Bars:      slice,
				Cost:      costModel(run),
				Timeframe: run.Timeframe,
			})
		},
		OnFold: func(ctx context.Context, fold *optimizer.Fold) error {
			record := &domain.WfoFold{
				RunID:          run.ID,
				FoldIndex:      fold.Index,
				TrainStart:     fold.Window.TrainStart,
				TrainEnd:       fold.Window.TrainEnd,
				TestStart:      fold.Window.TestStart,
				TestEnd:        fold.Window.TestEnd,
				Params:         fold.Params,
				TrainObjective: fold.TrainObjective,
				Metrics:        toMetrics(fold.TestResult),
			}
			if err := p.folds.Add(ctx, record); err != nil {
				return fmt.Errorf("persist fold %d: %w", fold.Index, err)
			}
			logf("info", fmt.Sprintf("Fold %d: params=%v train_%s=%.6f test_%s=%.6f",
				fold.Index, fold.Params, objective, fold.TrainObjective, objective, fold.TestObjective))
			return nil
		},
		OnProgress: progress.Report(ctx),
	}

	report, err := wf.Run(ctx, bars)
	if err != nil {
		return err
	}

	logf("info", fmt.Sprintf("Walk-forward completed: %d folds, mean test %s=%.6f",
		report.FoldCount, objective, report.MeanTestObjective))
	for rank, fold := range report.TopFolds {
		logf("info", fmt.Sprintf("Top %d: fold %d params=%v test_%s=%.6f",
			rank+1, fold.Index, fold.Params, objective, fold.TestObjective))
	}

	logger.Info(ctx, "Walk-forward optimization completed",
		"folds", report.FoldCount, "mean_test_objective", report.MeanTestObjective)
	return nil
}
