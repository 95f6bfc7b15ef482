package optimizer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// EvalFunc 对一组参数在给定 K 线序列上做一次评估
type EvalFunc func(ctx context.Context, params map[string]float64, bars []engine.Bar) (*engine.Result, error)

// Candidate 网格中一个已评估的参数组合
type Candidate struct {
	Index     int
	Params    map[string]float64
	Result    *engine.Result
	Objective float64
	Err       error
}

// GridSearch 并发评估全部组合并返回目标值最高的组合。
// 并发上限由 maxConcurrency 控制；单个组合评估失败只跳过该组合，
// 不中断整体搜索。最优判定使用严格大于，目标值相同时保留枚举序靠前的组合。
func GridSearch(
	ctx context.Context,
	combos []map[string]float64,
	bars []engine.Bar,
	objective Objective,
	evaluate EvalFunc,
	maxConcurrency int,
	onCandidate func(*Candidate),
) (*Candidate, []*Candidate, error) {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	candidates := make([]*Candidate, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, combo := range combos {
		g.Go(func() error {
			result, err := evaluate(gctx, combo, bars)
			cand := &Candidate{Index: i, Params: combo, Result: result, Err: err}
			if err != nil {
				logger.Warn(gctx, "Grid candidate evaluation failed", "params", combo, "error", err)
			} else {
				cand.Objective = objective.Value(result)
			}
			candidates[i] = cand
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var best *Candidate
	for _, cand := range candidates {
		if cand == nil || cand.Err != nil {
			continue
		}
		if best == nil || cand.Objective > best.Objective {
			best = cand
		}
	}

	if onCandidate != nil {
		for _, cand := range candidates {
			if cand != nil {
				onCandidate(cand)
			}
		}
	}
	return best, candidates, nil
}
