package worker

import (
	"context"
	"math"
	"sync"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// ProgressReporter 把 [0,1] 的完成比例折算为整数百分比写回运行记录。
// 只有严格超过上一次写入值时才触发更新，百分比因此单调不减，
// 也避免同一进度反复写库。
type ProgressReporter struct {
	runs  domain.RunRepository
	runID int64

	mu   sync.Mutex
	last int
}

// NewProgressReporter 创建进度上报器，认领时进度已置 1
func NewProgressReporter(runs domain.RunRepository, runID int64) *ProgressReporter {
	return &ProgressReporter{runs: runs, runID: runID, last: 1}
}

// Report 实现引擎与优化器的进度回调
func (p *ProgressReporter) Report(ctx context.Context) func(frac float64) {
	return func(frac float64) {
		pct := int(math.Floor(frac * 100))
		if pct < 1 {
			pct = 1
		}
		if pct > 99 {
			pct = 99
		}

		p.mu.Lock()
		if pct <= p.last {
			p.mu.Unlock()
			return
		}
		p.last = pct
		p.mu.Unlock()

		if err := p.runs.UpdateStatus(ctx, p.runID, domain.StatusRunning, pct, ""); err != nil {
			logger.Warn(ctx, "Failed to report run progress", "progress", pct, "error", err)
		}
	}
}
