// Package order holds the order-side plumbing of the execution engine:
// pending flags, submission results, the worker pool and the paper broker.
package order

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/events"
)

// Job runs blocking I/O on a worker and returns a continuation to run on
// the main scheduler. A nil continuation is skipped.
type Job func(ctx context.Context) func()

// Runner dispatches jobs.
type Runner interface {
	Submit(name string, job Job) bool
}

// Pool is a bounded worker pool whose results are marshalled back onto a
// scheduler.
type Pool struct {
	sched   events.Scheduler
	slots   chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger
	observe func(name string, d time.Duration)
}

// NewPool creates a pool with the given worker count.
func NewPool(sched events.Scheduler, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sched:  sched,
		slots:  make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "workers").Logger(),
	}
}

// Observe installs a latency hook called after each job.
func (p *Pool) Observe(fn func(name string, d time.Duration)) {
	p.observe = fn
}

// Submit runs job on a worker. It returns false when the pool is closed.
func (p *Pool) Submit(name string, job Job) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Warn().Str("job", name).Msg("pool closed, job dropped")
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case p.slots <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.slots }()

		start := time.Now()
		cont := job(p.ctx)
		if p.observe != nil {
			p.observe(name, time.Since(start))
		}
		if cont != nil {
			p.sched.Post(cont)
		}
	}()
	return true
}

// Busy returns the number of running jobs.
func (p *Pool) Busy() int {
	return len(p.slots)
}

// Close cancels running jobs and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Inline runs jobs synchronously on the caller and posts the continuation.
// Backtests and tests use it with a StepLoop.
type Inline struct {
	Sched events.Scheduler
}

func (r Inline) Submit(_ string, job Job) bool {
	if cont := job(context.Background()); cont != nil {
		r.Sched.Post(cont)
	}
	return true
}
