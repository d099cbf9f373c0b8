// Package workers provides a bounded goroutine pool used to run work that
// must not block the hot ingest path — e.g. the orchestrator offloading
// Reconciler.ReconcileNow to a worker instead of running it inline on the
// candle-processing goroutine.
//
// Grounded on the teacher's internal/workers/pool.go, trimmed to the
// pieces this engine actually exercises: a fixed worker count, a bounded
// task queue, and panic-recovering execution. The teacher's latency
// histograms, batch processor and pipeline stages have no caller in this
// engine and were dropped rather than carried over unused.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of work submitted to a Pool.
type Task interface {
	Execute()
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func()

func (f TaskFunc) Execute() { f() }

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name       string
	NumWorkers int
	QueueSize  int
}

// DefaultPoolConfig returns a small pool suited to offloading periodic,
// low-frequency tasks (reconciliation, not tick processing).
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{Name: name, NumWorkers: 2, QueueSize: 64}
}

// Pool runs submitted Tasks on a fixed set of worker goroutines.
type Pool struct {
	logger    *zap.Logger
	config    PoolConfig
	taskQueue chan Task

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// ErrPoolStopped is returned by Submit once the pool has been stopped.
var ErrPoolStopped = errors.New("workers: pool stopped")

// ErrQueueFull is returned by Submit when the bounded queue has no room.
var ErrQueueFull = errors.New("workers: queue full")

// NewPool constructs a Pool. Call Start before submitting tasks.
func NewPool(logger *zap.Logger, config PoolConfig) *Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	return &Pool{
		logger:    logger.Named("workers").With(zap.String("pool", config.Name)),
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.config.NumWorkers))
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.execute(task)
		}
	}
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("worker task panicked", zap.Any("recover", r))
			return
		}
		p.completed.Add(1)
	}()
	task.Execute()
}

// Submit enqueues task, returning ErrQueueFull if the bounded queue has no
// room rather than blocking the caller.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// SubmitFunc submits a plain function as a Task.
func (p *Pool) SubmitFunc(fn func()) error {
	return p.Submit(TaskFunc(fn))
}

// Stats is a snapshot of the pool's running counters.
type Stats struct {
	Submitted, Completed, Failed, Dropped int64
}

// Stats returns the pool's current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(), Completed: p.completed.Load(),
		Failed: p.failed.Load(), Dropped: p.dropped.Load(),
	}
}

// Stop signals workers to exit and waits for them to drain in-flight tasks.
func (p *Pool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped", zap.Int64("completed", p.completed.Load()))
}
