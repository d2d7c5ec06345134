// Package asyncwork implements a bounded, fire-and-forget worker pool. It
// backs every gateway component that must never let a slow downstream write
// (currently the tier-2 cache) add latency to the request path:
// submissions are buffered on a channel and dropped, not blocked on, once the
// buffer is full. Grounded on the teacher's analytics ingestion pipeline
// (buffered channel + worker goroutines + ticker-driven flush + bounded retry).
package asyncwork

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls buffering, worker count, and retry behavior.
type Config struct {
	BufferSize int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig mirrors the ingestion pipeline's production defaults, scaled
// down for a pool that runs one task type instead of three.
func DefaultConfig() Config {
	return Config{
		BufferSize: 10000,
		Workers:    4,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Task is a unit of work submitted to the pool. Returning a non-nil error
// triggers the pool's bounded retry; errors surviving all retries are logged
// and dropped — there is no caller to report back to.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed worker set, never blocking the
// submitter.
type Pool struct {
	logger zerolog.Logger
	config Config

	ch     chan Task
	wg     sync.WaitGroup
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	dropped   int64
}

// New creates a Pool. Call Start to launch its workers.
func New(logger zerolog.Logger, config Config) *Pool {
	return &Pool{
		logger: logger.With().Str("component", "asyncwork").Logger(),
		config: config,
		ch:     make(chan Task, config.BufferSize),
	}
}

// Start launches config.Workers goroutines draining the task channel.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info().Int("workers", p.config.Workers).Int("buffer_size", p.config.BufferSize).Msg("async worker pool started")
}

// Stop cancels running workers and waits for in-flight tasks to return.
// Queued-but-unstarted tasks are discarded — by design, nothing in this
// pool's callers needs delivery guarantees across a restart.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().
		Int64("submitted", atomic.LoadInt64(&p.submitted)).
		Int64("completed", atomic.LoadInt64(&p.completed)).
		Int64("failed", atomic.LoadInt64(&p.failed)).
		Int64("dropped", atomic.LoadInt64(&p.dropped)).
		Msg("async worker pool stopped")
}

// Submit enqueues task without blocking. If the buffer is full, the task is
// dropped and counted rather than applying backpressure to the caller.
func (p *Pool) Submit(task Task) {
	select {
	case p.ch <- task:
		atomic.AddInt64(&p.submitted, 1)
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.logger.Warn().Msg("async task dropped: buffer full")
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.ch:
			p.run(ctx, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err = task(ctx); err == nil {
			atomic.AddInt64(&p.completed, 1)
			return
		}
		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				atomic.AddInt64(&p.failed, 1)
				return
			case <-time.After(p.config.RetryDelay):
			}
		}
	}
	atomic.AddInt64(&p.failed, 1)
	p.logger.Warn().Err(err).Int("retries", p.config.MaxRetries).Msg("async task failed after retries")
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Dropped   int64
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Dropped:   atomic.LoadInt64(&p.dropped),
	}
}
