// Package worker runs CPU-bound computations off the request goroutine on a
// bounded pool.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microchallenges_worker_jobs_total",
			Help: "Total number of jobs run by the worker pool by result",
		},
		[]string{"result"},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "microchallenges_worker_job_duration_seconds",
			Help:    "Time from submission to completion of a worker job",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ErrPoolClosed is returned by futures submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

type Options struct {
	// Size bounds concurrently running jobs. Defaults to GOMAXPROCS.
	Size   int
	Logger *slog.Logger
}

// Pool runs Fibonacci jobs with at most Size of them executing at once.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(opts Options) *Pool {
	size := opts.Size
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Future is the pending result of a submitted job.
type Future struct {
	done   chan struct{}
	cancel context.CancelFunc
	result uint64
	err    error
}

// Wait blocks until the job finishes or ctx is done. Returning because ctx is
// done does not stop the job; use Cancel for that.
func (f *Future) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Cancel abandons the job. A job still queued for a slot never runs; a job
// already running completes but its result is replaced by context.Canceled.
func (f *Future) Cancel() {
	f.cancel()
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Submit schedules Fibonacci(n). Input validation happens on the pool, so an
// invalid n surfaces from Wait as ErrInvalidInput.
func (p *Pool) Submit(ctx context.Context, n int) *Future {
	jobCtx, cancel := context.WithCancel(ctx)
	f := &Future{done: make(chan struct{}), cancel: cancel}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		f.err = ErrPoolClosed
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	start := time.Now()
	go func() {
		defer p.wg.Done()
		defer close(f.done)
		defer cancel()

		f.result, f.err = p.run(jobCtx, n)
		jobsTotal.WithLabelValues(resultLabel(f.err)).Inc()
		jobDuration.Observe(time.Since(start).Seconds())
	}()
	return f
}

func (p *Pool) run(ctx context.Context, n int) (uint64, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer p.sem.Release(1)

	result, err := Fibonacci(n)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.logger.Debug("fibonacci computed", "n", n)
	return result, nil
}

// Close stops accepting jobs and waits for submitted ones to finish or for
// ctx to be done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
