// Package workpool runs submitted jobs on a fixed set of worker goroutines
// fed by a bounded queue.
//
// A panicking job is recovered and logged; it never takes a worker down.
// Each job gets its own context, cancelled when the caller cancels it or
// when the pool is stopped.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPoolClosed is returned by Submit after Stop.
	ErrPoolClosed = errors.New("workpool: pool is closed")

	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("workpool: queue is full")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("workpool: already started")
)

// Logger is the logging surface used by the pool.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	job    func(ctx context.Context)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Running   int64  `json:"running"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Panics    uint64 `json:"panics"`
}

// Pool is a fixed-size worker pool.
//
// Thread Safety:
//   - Submit, Stats and Stop are safe for concurrent use.
type Pool struct {
	workers int
	queue   chan task
	logger  Logger

	// base parents every job context; cancelled by Stop when its deadline hits.
	base       context.Context
	cancelBase context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool
	group   *errgroup.Group

	running   atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	panics    atomic.Uint64
}

// New creates a pool with the given number of workers and queue slots.
// Both are raised to at least 1. Submit does not block, so an unbuffered
// queue would reject any job no idle worker was already receiving.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:    workers,
		queue:      make(chan task, queueSize),
		logger:     noopLogger{},
		base:       base,
		cancelBase: cancel,
	}
}

// SetLogger sets the logger used for recovered panics.
func (p *Pool) SetLogger(logger Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// Start launches the workers. Jobs submitted earlier wait in the queue.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}

	p.group = new(errgroup.Group)
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for t := range p.queue {
				p.execute(t)
			}
			return nil
		})
	}
	p.started = true
	return nil
}

// Submit queues job without blocking and returns a function that cancels
// it. Cancelling a queued job skips it; cancelling a running job cancels
// the context it was handed.
func (p *Pool) Submit(job func(ctx context.Context)) (context.CancelFunc, error) {
	if job == nil {
		return nil, fmt.Errorf("workpool: nil job")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	ctx, cancel := context.WithCancel(p.base)
	select {
	case p.queue <- task{ctx: ctx, cancel: cancel, job: job}:
		p.submitted.Add(1)
		return cancel, nil
	default:
		cancel()
		return nil, ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued and running jobs to finish.
// If ctx ends first, every job context is cancelled and ctx.Err() is
// returned once the workers have exited.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	group := p.group
	p.mu.Unlock()

	if !started {
		// Nobody will run what is queued; release it.
		for t := range p.queue {
			t.cancel()
		}
		p.cancelBase()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait() //nolint:errcheck // workers never return errors
		close(done)
	}()

	select {
	case <-done:
		p.cancelBase()
		return nil
	case <-ctx.Done():
		p.cancelBase()
		<-done
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Running:   p.running.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *Pool) execute(t task) {
	defer t.cancel()
	if t.ctx.Err() != nil {
		return
	}

	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.mu.RLock()
			logger := p.logger
			p.mu.RUnlock()
			logger.Error("workpool job panic recovered", "panic", r)
		}
	}()

	t.job(t.ctx)
}
