// Package pool provides a bounded worker pool for background tasks.
//
// The pool backs every async path in the proxy: cache write-backs,
// archive writes and embedding generation all go through Submit. Submit
// never blocks; when the queue is full the task is rejected and the
// caller decides whether dropping is acceptable.
package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Config configures the worker pool.
type Config struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     64,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// WorkerPool runs submitted tasks on a bounded set of goroutines.
// Workers are spawned on demand and retire after IdleTimeout.
type WorkerPool struct {
	maxWorkers  int
	queue       chan func()
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

// Option customizes pool construction.
type Option func(*WorkerPool)

// WithPanicHandler installs a handler invoked with the recovered value
// when a task panics. The worker survives the panic either way.
func WithPanicHandler(h func(any)) Option {
	return func(p *WorkerPool) { p.panicHandler = h }
}

// New creates a worker pool.
func New(cfg Config, opts ...Option) *WorkerPool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	p := &WorkerPool{
		maxWorkers:  cfg.Workers,
		queue:       make(chan func(), cfg.QueueSize),
		idleTimeout: cfg.IdleTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit enqueues a task without blocking. Returns ErrPoolFull when the
// queue is saturated and no worker slot is free, ErrPoolClosed after
// Close.
func (p *WorkerPool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.queue <- task:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.queue <- task:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *WorkerPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *WorkerPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.activeCount.Add(1)
			p.run(task)
			p.activeCount.Add(-1)
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// keep at least one worker alive
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			return
		}
		p.completed.Add(1)
	}()
	task()
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats contains a point-in-time snapshot of pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
	Rejected  int64 `json:"rejected"`
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}
