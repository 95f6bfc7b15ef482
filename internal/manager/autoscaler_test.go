package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
)

// fakeBacklog 只实现扩缩容关心的计数查询
type fakeBacklog struct {
	mu      sync.Mutex
	queued  int64
	running int64
}

func (r *fakeBacklog) setQueued(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = n
}

func (r *fakeBacklog) CountByStatus(ctx context.Context) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queued, r.running, nil
}

func (r *fakeBacklog) Enqueue(ctx context.Context, run *domain.Run) error { return nil }
func (r *fakeBacklog) FetchNextQueued(ctx context.Context) (*domain.Run, error) {
	return nil, nil
}
func (r *fakeBacklog) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus, progress int, errMsg string) error {
	return nil
}
func (r *fakeBacklog) Get(ctx context.Context, id int64) (*domain.Run, error) { return nil, nil }
func (r *fakeBacklog) ListRecent(ctx context.Context, runType domain.RunType, limit, offset int) ([]*domain.Run, error) {
	return nil, nil
}

// fakeProc 可手工标记退出的进程句柄
type fakeProc struct {
	pid     int
	mu      sync.Mutex
	alive   bool
	stopped bool
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProc) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	p.stopped = true
	return nil
}

func (p *fakeProc) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	spawned []*fakeProc
	err     error
}

func (s *fakeSpawner) spawn(ctx context.Context) (Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextPID++
	proc := &fakeProc{pid: s.nextPID, alive: true}
	s.spawned = append(s.spawned, proc)
	return proc, nil
}

func TestDesired(t *testing.T) {
	cases := []struct {
		queued                    int64
		capacity, minP, maxP, want int
	}{
		{0, 2, 1, 4, 1},
		{1, 2, 1, 4, 1},
		{2, 2, 1, 4, 1},
		{3, 2, 1, 4, 2},
		{9, 3, 1, 4, 3},
		{100, 2, 1, 4, 4},
		{0, 2, 2, 4, 2},
		{5, 0, 1, 10, 5},
	}
	for _, c := range cases {
		got := Desired(c.queued, c.capacity, c.minP, c.maxP)
		assert.Equal(t, c.want, got, "queued=%d capacity=%d", c.queued, c.capacity)
	}
}

func newTestScaler(repo domain.RunRepository, spawn Spawner, minP, maxP, capacity int) *Autoscaler {
	return NewAutoscaler(repo, spawn, nil, time.Second, minP, maxP, capacity, time.Second)
}

func TestAutoscalerReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("scales up to match backlog", func(t *testing.T) {
		repo := &fakeBacklog{}
		spawner := &fakeSpawner{}
		scaler := newTestScaler(repo, spawner.spawn, 1, 4, 2)

		repo.setQueued(7)
		scaler.reconcile(ctx)

		assert.Equal(t, 4, scaler.AliveProcs())
		assert.Len(t, spawner.spawned, 4)
	})

	t.Run("keeps min procs on empty backlog", func(t *testing.T) {
		repo := &fakeBacklog{}
		spawner := &fakeSpawner{}
		scaler := newTestScaler(repo, spawner.spawn, 2, 4, 2)

		scaler.reconcile(ctx)

		assert.Equal(t, 2, scaler.AliveProcs())
	})

	t.Run("scales down oldest process first", func(t *testing.T) {
		repo := &fakeBacklog{}
		spawner := &fakeSpawner{}
		scaler := newTestScaler(repo, spawner.spawn, 1, 4, 2)

		repo.setQueued(8)
		scaler.reconcile(ctx)
		require.Equal(t, 4, scaler.AliveProcs())

		repo.setQueued(3)
		scaler.reconcile(ctx)

		assert.Equal(t, 2, scaler.AliveProcs())
		assert.True(t, spawner.spawned[0].stopped, "oldest proc should be stopped first")
		assert.True(t, spawner.spawned[1].stopped)
		assert.False(t, spawner.spawned[2].stopped)
		assert.False(t, spawner.spawned[3].stopped)
	})

	t.Run("replaces processes that exited on their own", func(t *testing.T) {
		repo := &fakeBacklog{}
		spawner := &fakeSpawner{}
		scaler := newTestScaler(repo, spawner.spawn, 1, 4, 2)

		repo.setQueued(4)
		scaler.reconcile(ctx)
		require.Equal(t, 2, scaler.AliveProcs())

		spawner.spawned[0].exit()
		scaler.reconcile(ctx)

		assert.Equal(t, 2, scaler.AliveProcs())
		assert.Len(t, spawner.spawned, 3)
	})

	t.Run("spawn failure leaves pool unchanged", func(t *testing.T) {
		repo := &fakeBacklog{}
		spawner := &fakeSpawner{err: fmt.Errorf("fork failed")}
		scaler := newTestScaler(repo, spawner.spawn, 1, 4, 2)

		repo.setQueued(10)
		scaler.reconcile(ctx)

		assert.Equal(t, 0, scaler.AliveProcs())
	})

	t.Run("shutdown stops all procs", func(t *testing.T) {
		repo := &fakeBacklog{}
		spawner := &fakeSpawner{}
		scaler := newTestScaler(repo, spawner.spawn, 1, 4, 1)

		repo.setQueued(3)
		scaler.reconcile(ctx)
		require.Equal(t, 3, scaler.AliveProcs())

		scaler.shutdown()

		assert.Equal(t, 0, scaler.AliveProcs())
		for _, proc := range spawner.spawned {
			assert.True(t, proc.stopped)
		}
	})
}
