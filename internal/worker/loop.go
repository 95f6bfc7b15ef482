package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
)

// RunProcessor 执行一条已认领的任务
type RunProcessor interface {
	Process(ctx context.Context, run *domain.Run) error
}

// Loop 运行任务轮询执行器。内部起 concurrency 个轮询单元，
// 每个单元独立认领任务：认领协议保证同一任务只会被一个单元拿到。
type Loop struct {
	runs         domain.RunRepository
	processor    RunProcessor
	publisher    domain.EventPublisher
	metrics      *metrics.Metrics
	concurrency  int
	pollInterval time.Duration
}

// NewLoop 创建轮询执行器
func NewLoop(
	runs domain.RunRepository,
	processor RunProcessor,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	concurrency int,
	pollInterval time.Duration,
) *Loop {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if publisher == nil {
		publisher = domain.NopPublisher{}
	}
	return &Loop{
		runs:         runs,
		processor:    processor,
		publisher:    publisher,
		metrics:      m,
		concurrency:  concurrency,
		pollInterval: pollInterval,
	}
}

// Run 阻塞运行直到 ctx 取消，返回时所有在途任务已处理完毕
func (l *Loop) Run(ctx context.Context) {
	logger.Info(ctx, "Worker loop starting", "concurrency", l.concurrency, "poll_interval", l.pollInterval)

	var wg sync.WaitGroup
	for i := 0; i < l.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			l.poll(logger.WithWorkerID(ctx, workerID))
		}(i)
	}
	wg.Wait()

	logger.Info(ctx, "Worker loop stopped")
}

// poll 单个轮询单元：认领、执行、写回终态，失败不中断循环
func (l *Loop) poll(ctx context.Context) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		run, err := l.runs.FetchNextQueued(ctx)
		if err != nil {
			logger.Error(ctx, "Failed to claim next run", "error", err)
		} else if run != nil {
			l.execute(ctx, run)
			// 队列非空时立刻尝试下一条
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// execute 处理一条已认领的任务。panic 被捕获并转为 failed 终态
func (l *Loop) execute(ctx context.Context, run *domain.Run) {
	ctx = logger.WithRunID(ctx, run.ID)
	start := time.Now()

	if l.metrics != nil {
		l.metrics.RunsClaimedTotal.WithLabelValues(string(run.RunType)).Inc()
	}
	logger.Info(ctx, "Run claimed", "run_type", run.RunType, "strategy", run.StrategyName)
	l.publishEvent(ctx, run, domain.StatusRunning, 1, "")

	var procErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				procErr = fmt.Errorf("panic: %v", r)
				logger.Error(ctx, "Run handler panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		procErr = l.processor.Process(ctx, run)
	}()

	elapsed := time.Since(start)
	if l.metrics != nil {
		l.metrics.RunDuration.WithLabelValues(string(run.RunType)).Observe(elapsed.Seconds())
	}

	// 终态写回不用已取消的 ctx，保证在途任务能收尾
	finishCtx := ctx
	if finishCtx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(logger.WithRunID(context.Background(), run.ID), 10*time.Second)
		defer cancel()
	}

	if procErr != nil {
		if l.metrics != nil {
			l.metrics.RunsFailedTotal.WithLabelValues(string(run.RunType)).Inc()
		}
		logger.Error(ctx, "Run failed", "run_type", run.RunType, "duration", elapsed, "error", procErr)
		if err := l.runs.UpdateStatus(finishCtx, run.ID, domain.StatusFailed, 100, procErr.Error()); err != nil {
			logger.Error(ctx, "Failed to mark run as failed", "error", err)
		}
		l.publishEvent(finishCtx, run, domain.StatusFailed, 100, procErr.Error())
		return
	}

	if l.metrics != nil {
		l.metrics.RunsSucceededTotal.WithLabelValues(string(run.RunType)).Inc()
	}
	logger.Info(ctx, "Run succeeded", "run_type", run.RunType, "duration", elapsed)
	if err := l.runs.UpdateStatus(finishCtx, run.ID, domain.StatusSucceeded, 100, ""); err != nil {
		logger.Error(ctx, "Failed to mark run as succeeded", "error", err)
	}
	l.publishEvent(finishCtx, run, domain.StatusSucceeded, 100, "")
}

func (l *Loop) publishEvent(ctx context.Context, run *domain.Run, status domain.RunStatus, progress int, errMsg string) {
	event := &domain.RunEvent{
		RunID:      run.ID,
		RunType:    run.RunType,
		Status:     status,
		Progress:   progress,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}
	if err := l.publisher.PublishRunEvent(ctx, event); err != nil {
		logger.Warn(ctx, "Failed to publish run event", "error", err)
	}
}
