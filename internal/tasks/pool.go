package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/metrics"
)

// ErrPoolClosed is returned when enqueuing into a pool that is not running
var ErrPoolClosed = errors.New("task pool is not running")

// Pool executes jobs in process with a fixed number of workers reading from a bounded
// buffer. Failing jobs are retried with exponential backoff by the worker that ran them.
type Pool struct {
	handlers    *Handlers
	jobs        chan *Job
	workerCount int
	maxAttempts int
	backoff     time.Duration
	exec        *executor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	started  bool
	shutdown bool
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithWorkers sets the number of workers
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// WithBuffer sets the number of jobs waiting for a worker before Enqueue blocks
func WithBuffer(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.jobs = make(chan *Job, n)
		}
	}
}

// WithMaxAttempts sets the number of attempts per job
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay before the first retry; it doubles on every further one
func WithBackoff(d time.Duration) PoolOption {
	return func(p *Pool) { p.backoff = d }
}

// WithPoolLogger sets the logger
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.exec.logger = l
		}
	}
}

// WithPoolMetrics records processed jobs and the queue depth
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.exec.metrics = m }
}

// NewPool creates a stopped pool. Defaults: 4 workers, 100 buffered jobs, 3 attempts,
// 100ms initial backoff.
func NewPool(handlers *Handlers, opts ...PoolOption) *Pool {
	if handlers == nil {
		handlers = NewHandlers()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handlers:    handlers,
		jobs:        make(chan *Job, 100),
		workerCount: 4,
		maxAttempts: DefaultMaxAttempts,
		backoff:     100 * time.Millisecond,
		exec:        &executor{handlers: handlers, logger: zap.NewNop()},
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handlers returns the handler registry of the pool
func (p *Pool) Handlers() *Handlers { return p.handlers }

// Start starts the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
	p.exec.logger.Info("task pool started", zap.Int("workers", p.workerCount))
}

// Enqueue implements Runner. It blocks while the buffer is full.
func (p *Pool) Enqueue(ctx context.Context, kind string, payload []byte) error {
	job := NewJob(kind, payload)
	job.MaxAttempts = p.maxAttempts

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.shutdown {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.exec.metrics.SetQueued(len(p.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting jobs and waits for the queued ones to complete
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.started || p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.exec.logger.Info("task pool stopped")
}

// Stop cancels running handlers and returns without draining the buffer.
// Pending Enqueue calls return ErrPoolClosed.
func (p *Pool) Stop() {
	// cancel before locking: a blocked Enqueue holds the read lock until p.ctx is done
	p.cancel()

	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.exec.metrics.SetQueued(len(p.jobs))
			p.process(job)
		}
	}
}

func (p *Pool) process(job *Job) {
	delay := p.backoff
	for {
		outcome, _ := p.exec.attempt(p.ctx, job)
		if outcome != OutcomeRetried || p.ctx.Err() != nil {
			return
		}
		if delay > 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
}

var _ Runner = (*Pool)(nil)
