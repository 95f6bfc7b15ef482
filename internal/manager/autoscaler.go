// Package manager 实现 worker 进程的自动扩缩容：
// 按积压任务量计算期望进程数，并负责子进程的拉起、回收与优雅终止。
package manager

import (
	"context"
	"math"
	"time"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
)

// Spawner 拉起一个 worker 进程，返回其句柄
type Spawner func(ctx context.Context) (Proc, error)

// Autoscaler 按固定间隔对账：期望进程数 = clamp(ceil(queued/procCapacity), min, max)。
// 扩容一次拉齐，缩容按拉起顺序从最早的进程开始终止。
type Autoscaler struct {
	runs         domain.RunRepository
	spawn        Spawner
	metrics      *metrics.Metrics
	pollInterval time.Duration
	minProcs     int
	maxProcs     int
	procCapacity int
	drainTimeout time.Duration

	procs []Proc
}

// NewAutoscaler 创建扩缩容器
func NewAutoscaler(
	runs domain.RunRepository,
	spawn Spawner,
	m *metrics.Metrics,
	pollInterval time.Duration,
	minProcs, maxProcs, procCapacity int,
	drainTimeout time.Duration,
) *Autoscaler {
	if minProcs < 1 {
		minProcs = 1
	}
	if maxProcs < minProcs {
		maxProcs = minProcs
	}
	if procCapacity < 1 {
		procCapacity = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Autoscaler{
		runs:         runs,
		spawn:        spawn,
		metrics:      m,
		pollInterval: pollInterval,
		minProcs:     minProcs,
		maxProcs:     maxProcs,
		procCapacity: procCapacity,
		drainTimeout: drainTimeout,
	}
}

// Desired 由排队任务数计算期望进程数
func Desired(queued int64, procCapacity, minProcs, maxProcs int) int {
	if procCapacity < 1 {
		procCapacity = 1
	}
	desired := int(math.Ceil(float64(queued) / float64(procCapacity)))
	if desired < minProcs {
		desired = minProcs
	}
	if desired > maxProcs {
		desired = maxProcs
	}
	return desired
}

// Run 阻塞运行对账循环直到 ctx 取消，退出前终止全部子进程
func (a *Autoscaler) Run(ctx context.Context) {
	logger.Info(ctx, "Autoscaler starting",
		"min_procs", a.minProcs, "max_procs", a.maxProcs,
		"proc_capacity", a.procCapacity, "poll_interval", a.pollInterval)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		a.reconcile(ctx)

		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case <-ticker.C:
		}
	}
}

// reconcile 一轮对账：先剔除已退出的进程，再向期望数靠拢
func (a *Autoscaler) reconcile(ctx context.Context) {
	a.prune(ctx)

	queued, running, err := a.runs.CountByStatus(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to count backlog", "error", err)
		return
	}
	if a.metrics != nil {
		a.metrics.BacklogQueued.Set(float64(queued))
		a.metrics.BacklogRunning.Set(float64(running))
		a.metrics.WorkerProcsAlive.Set(float64(len(a.procs)))
	}

	desired := Desired(queued, a.procCapacity, a.minProcs, a.maxProcs)
	if desired == len(a.procs) {
		return
	}

	logger.Info(ctx, "Scaling worker pool",
		"queued", queued, "running", running,
		"alive", len(a.procs), "desired", desired)

	for len(a.procs) < desired {
		proc, err := a.spawn(ctx)
		if err != nil {
			logger.Error(ctx, "Failed to spawn worker process", "error", err)
			return
		}
		logger.Info(ctx, "Worker process spawned", "pid", proc.PID())
		a.procs = append(a.procs, proc)
	}

	// 缩容从最早拉起的进程开始
	for len(a.procs) > desired {
		victim := a.procs[0]
		a.procs = a.procs[1:]
		a.terminate(ctx, victim)
	}

	if a.metrics != nil {
		a.metrics.WorkerProcsAlive.Set(float64(len(a.procs)))
	}
}

// prune 剔除已自行退出的进程
func (a *Autoscaler) prune(ctx context.Context) {
	alive := a.procs[:0]
	for _, proc := range a.procs {
		if proc.Alive() {
			alive = append(alive, proc)
			continue
		}
		logger.Warn(ctx, "Worker process exited on its own", "pid", proc.PID())
	}
	a.procs = alive
}

// terminate 先发 SIGTERM 等待排水，超时后强杀
func (a *Autoscaler) terminate(ctx context.Context, proc Proc) {
	logger.Info(ctx, "Stopping worker process", "pid", proc.PID())
	if err := proc.Stop(a.drainTimeout); err != nil {
		logger.Warn(ctx, "Worker process did not stop cleanly", "pid", proc.PID(), "error", err)
	}
}

func (a *Autoscaler) shutdown() {
	ctx := context.Background()
	logger.Info(ctx, "Autoscaler shutting down", "procs", len(a.procs))
	for _, proc := range a.procs {
		a.terminate(ctx, proc)
	}
	a.procs = nil
}

// AliveProcs 当前存活的子进程数
func (a *Autoscaler) AliveProcs() int {
	return len(a.procs)
}
