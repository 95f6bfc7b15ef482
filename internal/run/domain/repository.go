package domain

import (
	"context"
)

// RunRepository 运行任务仓储接口。
// FetchNextQueued 是认领协议的核心：在同一个事务内以 SKIP LOCKED 语义选取
// 最早提交且未被其他事务锁定的排队任务，并立即置为 running。
type RunRepository interface {
	// Enqueue 插入一条 status=queued 的运行记录
	Enqueue(ctx context.Context, run *Run) error
	// FetchNextQueued 认领下一条排队任务；无可认领任务时返回 (nil, nil)
	FetchNextQueued(ctx context.Context) (*Run, error)
	// UpdateStatus 更新状态与进度；目标不存在时返回 ErrRunNotFound
	UpdateStatus(ctx context.Context, id int64, status RunStatus, progress int, errMsg string) error
	// Get 按 ID 查询；不存在时返回 (nil, nil)
	Get(ctx context.Context, id int64) (*Run, error)
	// ListRecent 按提交时间倒序分页列出指定类型的运行
	ListRecent(ctx context.Context, runType RunType, limit, offset int) ([]*Run, error)
	// CountByStatus 统计回测族运行类型的 queued / running 数量，供扩缩容器使用
	CountByStatus(ctx context.Context) (queued, running int64, err error)
}

// RunResultRepository 运行结果仓储
type RunResultRepository interface {
	Add(ctx context.Context, result *RunResult) error
	ListByRun(ctx context.Context, runID int64) ([]*RunResult, error)
}

// OptimizationVariantRepository 网格点评估结果仓储，仅追加
type OptimizationVariantRepository interface {
	Add(ctx context.Context, variant *OptimizationVariant) error
	ListByRun(ctx context.Context, runID int64) ([]*OptimizationVariant, error)
}

// WfoFoldRepository 滚动优化折仓储，仅追加
type WfoFoldRepository interface {
	Add(ctx context.Context, fold *WfoFold) error
	ListByRun(ctx context.Context, runID int64) ([]*WfoFold, error)
}

// RunTradeRepository 主结果已平仓交易仓储，回测完成时批量写入
type RunTradeRepository interface {
	SaveAll(ctx context.Context, trades []*RunTrade) error
	ListByRun(ctx context.Context, runID int64) ([]*RunTrade, error)
}

// RunLogRepository 运行日志仓储，仅追加，按 run_id 分页查询
type RunLogRepository interface {
	Append(ctx context.Context, entry *RunLogEntry) error
	ListByRun(ctx context.Context, runID int64, limit, offset int) ([]*RunLogEntry, error)
}
