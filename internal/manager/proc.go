package manager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Proc 受管 worker 进程句柄。测试中用假实现替换真实子进程
type Proc interface {
	PID() int
	Alive() bool
	// Stop 发送 SIGTERM 并等待退出，超时后 SIGKILL
	Stop(timeout time.Duration) error
}

// WorkerProcSpec 子进程的启动参数
type WorkerProcSpec struct {
	// worker 可执行文件路径
	Bin string
	// 配置文件路径，透传 -config 参数
	ConfigPath string
	// 进程内轮询单元数，经由环境变量覆盖子进程配置
	Concurrency int
	// 轮询间隔（毫秒）
	PollIntervalMs int
}

// osProc 基于 os/exec 的真实进程句柄
type osProc struct {
	cmd *exec.Cmd

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// SpawnWorkerProc 拉起一个 worker 子进程并异步等待其退出
func SpawnWorkerProc(ctx context.Context, spec WorkerProcSpec) (Proc, error) {
	args := []string{}
	if spec.ConfigPath != "" {
		args = append(args, "-config", spec.ConfigPath)
	}

	cmd := exec.Command(spec.Bin, args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("APP_WORKER_CONCURRENCY=%d", spec.Concurrency),
		fmt.Sprintf("APP_WORKER_POLL_INTERVAL=%d", spec.PollIntervalMs),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", spec.Bin, err)
	}

	p := &osProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (p *osProc) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *osProc) Stop(timeout time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill pid %d after drain timeout: %w", p.PID(), err)
		}
		<-p.done
		return fmt.Errorf("pid %d killed after %s drain timeout", p.PID(), timeout)
	}
}

// NewWorkerSpawner 返回使用固定启动参数的 Spawner
func NewWorkerSpawner(spec WorkerProcSpec) Spawner {
	return func(ctx context.Context) (Proc, error) {
		return SpawnWorkerProc(ctx, spec)
	}
}
