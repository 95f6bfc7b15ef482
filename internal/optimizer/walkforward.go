package optimizer

import (
	"context"
	"sort"
	"time"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// Window 一组训练/测试时间窗口。区间左闭右开，
// 测试窗口触及序列末尾时右端点含末根 K 线。
type Window struct {
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// Fold 一个完成评估的滚动窗口。
// Index 是已记录折的连续序号：被跳过的窗口不占号，落库后不留空洞。
type Fold struct {
	Index          int
	Window         Window
	Params         map[string]float64
	TrainObjective float64
	TestObjective  float64
	TestResult     *engine.Result
}

// Report 滚动优化汇总
type Report struct {
	FoldCount         int
	MeanTestObjective float64
	TopFolds          []*Fold
}

// Windows 按日历月步进生成训练/测试窗口序列。
// 训练窗口右端到达或超出序列末尾时停止。
func Windows(seriesStart, seriesEnd time.Time, trainMonths, testMonths, stepMonths int) []Window {
	if trainMonths <= 0 || testMonths <= 0 || stepMonths <= 0 {
		return nil
	}

	var windows []Window
	trainStart := seriesStart
	for {
		trainEnd := trainStart.AddDate(0, trainMonths, 0)
		if !trainEnd.Before(seriesEnd) {
			break
		}
		testStart := trainEnd
		testEnd := testStart.AddDate(0, testMonths, 0)
		if testEnd.After(seriesEnd) {
			testEnd = seriesEnd
		}
		windows = append(windows, Window{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		trainStart = trainStart.AddDate(0, stepMonths, 0)
	}
	return windows
}

// WalkForward 滚动（walk-forward）优化器。
// 每个窗口在训练切片上做网格搜索，选出的参数在紧随其后的测试切片上
// 做一次样本外评估，汇总各窗口的样本外表现。
type WalkForward struct {
	Grid           *Grid
	Constraint     *Constraint
	Objective      Objective
	TrainMonths    int
	TestMonths     int
	StepMonths     int
	MaxConcurrency int
	TopN           int

	Evaluate EvalFunc
	// OnFold 每个窗口完成后回调，用于落库，返回错误时中止
	OnFold func(ctx context.Context, fold *Fold) error
	// OnProgress 整体进度回调，取值 [0, 1]
	OnProgress func(frac float64)
}

// Run 对整段 K 线序列执行滚动优化。
// 窗口数为零（序列过短）不是错误，返回空报告。
func (w *WalkForward) Run(ctx context.Context, bars []engine.Bar) (*Report, error) {
	if len(bars) == 0 {
		return nil, engine.ErrNoData
	}

	seriesStart := bars[0].Timestamp
	seriesEnd := bars[len(bars)-1].Timestamp
	windows := Windows(seriesStart, seriesEnd, w.TrainMonths, w.TestMonths, w.StepMonths)
	combos := w.Grid.Combos(w.Constraint)

	logger.Info(ctx, "Walk-forward optimization started",
		"windows", len(windows), "combos", len(combos),
		"train_months", w.TrainMonths, "test_months", w.TestMonths, "step_months", w.StepMonths)

	var folds []*Fold
	for i, win := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trainBars := sliceBars(bars, win.TrainStart, win.TrainEnd, false)
		testBars := sliceBars(bars, win.TestStart, win.TestEnd, win.TestEnd.Equal(seriesEnd))
		if len(trainBars) == 0 || len(testBars) == 0 {
			logger.Warn(ctx, "Skipping window with empty slice",
				"window", i, "train_bars", len(trainBars), "test_bars", len(testBars))
			continue
		}

		best, _, err := GridSearch(ctx, combos, trainBars, w.Objective, w.Evaluate, w.MaxConcurrency, nil)
		if err != nil {
			return nil, err
		}
		if best == nil {
			logger.Warn(ctx, "Skipping window, no candidate evaluated successfully", "window", i)
			continue
		}

		testResult, err := w.Evaluate(ctx, best.Params, testBars)
		if err != nil {
			logger.Warn(ctx, "Skipping window, out-of-sample evaluation failed",
				"window", i, "params", best.Params, "error", err)
			continue
		}

		fold := &Fold{
			Index:          len(folds),
			Window:         win,
			Params:         best.Params,
			TrainObjective: best.Objective,
			TestObjective:  w.Objective.Value(testResult),
			TestResult:     testResult,
		}
		folds = append(folds, fold)

		logger.Info(ctx, "Fold completed",
			"fold", fold.Index, "window", i, "params", fold.Params,
			"train_objective", fold.TrainObjective, "test_objective", fold.TestObjective)

		if w.OnFold != nil {
			if err := w.OnFold(ctx, fold); err != nil {
				return nil, err
			}
		}
		if w.OnProgress != nil {
			w.OnProgress(float64(i+1) / float64(len(windows)))
		}
	}

	return buildReport(folds, w.TopN), nil
}

func buildReport(folds []*Fold, topN int) *Report {
	report := &Report{FoldCount: len(folds)}
	if len(folds) == 0 {
		return report
	}

	sum := 0.0
	for _, f := range folds {
		sum += f.TestObjective
	}
	report.MeanTestObjective = sum / float64(len(folds))

	ranked := make([]*Fold, len(folds))
	copy(ranked, folds)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TestObjective > ranked[j].TestObjective
	})
	if topN < 1 {
		topN = 1
	}
	if topN > len(ranked) {
		topN = len(ranked)
	}
	report.TopFolds = ranked[:topN]
	return report
}

// sliceBars 取 [start, end) 区间的 K 线，inclusiveEnd 时含右端点
func sliceBars(bars []engine.Bar, start, end time.Time, inclusiveEnd bool) []engine.Bar {
	lo := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(bars), func(i int) bool {
		if inclusiveEnd {
			return bars[i].Timestamp.After(end)
		}
		return !bars[i].Timestamp.Before(end)
	})
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}
