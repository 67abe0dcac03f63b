package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// =============================================================================
// BACKGROUND WORKER POOL
// =============================================================================
// Request handlers hand long-running work (bulk verification runs) to this
// pool and return immediately. A fixed number of goroutines drain a bounded
// channel. Tasks run on the pool's own context, never the request's, so a
// client disconnect cannot cut a job short. Stop drains queued tasks and
// waits for running ones up to the caller's deadline.

var (
	// ErrPoolFull is returned by Submit when the queue has no free slot.
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Task is a unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}

// PoolObserver receives task lifecycle callbacks. Used for metrics.
type PoolObserver interface {
	TaskStarted(name string)
	TaskFinished(name string, d time.Duration, panicked bool)
}

// Pool runs tasks on a fixed set of goroutines.
type Pool struct {
	size     int
	tasks    chan Task
	observer PoolObserver

	running   int64
	completed int64
	panicked  int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPool creates a pool with size workers and a queue of queueSize slots.
func NewPool(size, queueSize int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{size: size, tasks: make(chan Task, queueSize)}
}

// SetObserver installs a lifecycle observer. Call before Start.
func (p *Pool) SetObserver(o PoolObserver) {
	p.observer = o
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("worker pool already running")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	logger.Info("worker pool started", "workers", p.size, "queue", cap(p.tasks))
	return nil
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrPoolFull
	}
}

// Stop closes the queue and waits for queued and running tasks to finish.
// If ctx expires first the pool context is cancelled and Stop returns
// ctx.Err() without waiting further.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		logger.Info("worker pool stopped", "completed", atomic.LoadInt64(&p.completed))
		return nil
	case <-ctx.Done():
		p.cancel()
		logger.Warn("worker pool stop deadline exceeded", "running", atomic.LoadInt64(&p.running))
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.size,
		Queued:    len(p.tasks),
		Running:   atomic.LoadInt64(&p.running),
		Completed: atomic.LoadInt64(&p.completed),
		Panicked:  atomic.LoadInt64(&p.panicked),
	}
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.execute(id, t)
	}
}

func (p *Pool) execute(id int, t Task) {
	atomic.AddInt64(&p.running, 1)
	start := time.Now()
	if p.observer != nil {
		p.observer.TaskStarted(t.Name)
	}

	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			atomic.AddInt64(&p.panicked, 1)
			logger.Error("worker task panicked", "worker", id, "task", t.Name, "panic", r)
		}
		atomic.AddInt64(&p.running, -1)
		atomic.AddInt64(&p.completed, 1)
		if p.observer != nil {
			p.observer.TaskFinished(t.Name, time.Since(start), panicked)
		}
	}()

	t.Run(p.ctx)
}
