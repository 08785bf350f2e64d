package workflow

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"adcp-sales-agent/internal/logging"
)

// Job is one unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher runs jobs on a fixed number of workers fed by a bounded queue.
type Dispatcher struct {
	jobs    chan Job
	workers int
	logger  *logging.Logger

	mu      sync.RWMutex
	stopped bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewDispatcher creates a Dispatcher. Non-positive sizes fall back to 4 workers
// and a queue of 64.
func NewDispatcher(cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Dispatcher{
		jobs:    make(chan Job, cfg.QueueSize),
		workers: cfg.Workers,
		logger:  logger.With("module", "dispatcher"),
	}
}

// Start launches the workers. Jobs run with ctx's values but not its
// cancellation; only a Shutdown deadline cancels them.
func (d *Dispatcher) Start(ctx context.Context) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := &errgroup.Group{}

	d.mu.Lock()
	d.group, d.cancel = g, cancel
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(jobCtx, worker)
			return nil
		})
	}
	d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.jobs))
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		d.logger.Warn("dispatcher queue full, rejecting job", "job", job.Name)
		return ErrQueueFull
	}
}

// Stop refuses new jobs, lets workers drain the queue and waits for them.
func (d *Dispatcher) Stop() error {
	return d.Shutdown(context.Background())
}

// Shutdown refuses new jobs and waits for the queue to drain. When ctx ends
// first, running jobs see their context canceled, queued jobs are skipped, and
// ctx's error is returned once the workers have exited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.jobs)
	g, cancel := d.group, d.cancel
	d.mu.Unlock()

	if g == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		cancel()
		d.logger.Info("dispatcher stopped")
		return err
	case <-ctx.Done():
		cancel()
		<-done
		d.logger.Warn("dispatcher shutdown timed out, queued jobs skipped", "error", ctx.Err())
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for job := range d.jobs {
		if ctx.Err() != nil {
			d.logger.Warn("skipping job after shutdown deadline", "job", job.Name, "worker", worker)
			continue
		}
		d.run(ctx, worker, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", "job", job.Name, "worker", worker, "panic", fmt.Sprint(r))
		}
	}()
	if err := job.Run(ctx); err != nil {
		d.logger.Warn("job failed", "job", job.Name, "worker", worker, "error", err)
	}
}
