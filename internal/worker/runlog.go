// Package worker 实现运行任务的认领、调度与三类处理器（回测 / 参数寻优 / 滚动优化）
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// RunLogWriter 把评估引擎的逐行输出写入运行日志流，并镜像到进程日志。
// 紧邻重复的相同内容只落库一次，避免循环策略刷屏。
type RunLogWriter struct {
	repo  domain.RunLogRepository
	runID int64

	mu       sync.Mutex
	lastLine string
}

// NewRunLogWriter 创建绑定到单个 run 的日志写入器
func NewRunLogWriter(repo domain.RunLogRepository, runID int64) *RunLogWriter {
	return &RunLogWriter{repo: repo, runID: runID}
}

// Logf 实现 engine.LogFunc。落库失败只告警，不中断评估
func (w *RunLogWriter) Logf(ctx context.Context) func(level, msg string) {
	return func(level, msg string) {
		w.mu.Lock()
		dup := msg == w.lastLine
		w.lastLine = msg
		w.mu.Unlock()

		switch level {
		case "error":
			logger.Error(ctx, msg)
		case "warn":
			logger.Warn(ctx, msg)
		default:
			logger.Info(ctx, msg)
		}

		if dup {
			return
		}
		entry := &domain.RunLogEntry{
			RunID:   w.runID,
			Ts:      time.Now().UTC(),
			Level:   level,
			Message: msg,
		}
		if err := w.repo.Append(ctx, entry); err != nil {
			logger.Warn(ctx, "Failed to append run log entry", "error", err)
		}
	}
}
