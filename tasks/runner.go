// Package tasks runs fire-and-forget background work on a fixed worker pool
// and publishes each result into a cache with an expiry.
//
// Submit never blocks: a full queue is reported with ErrQueueFull. A result
// whose cache write fails is dropped; the submitter never learns of it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/BigKAA/svcpulse/metrics"
)

// Sentinel errors for the runner.
var (
	ErrQueueFull      = errors.New("task queue full")
	ErrRunnerStopped  = errors.New("task runner stopped")
	ErrAlreadyStarted = errors.New("task runner already started")
)

// MetricTasks counts finished and rejected submissions by outcome.
const MetricTasks = "background_tasks_total"

// Outcomes recorded in MetricTasks.
const (
	OutcomeStored   = "stored"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
	DefaultTTL       = 300 * time.Second

	cacheWriteTimeout = 3 * time.Second
)

// Cache receives task results.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Job is one unit of background work. Run produces the value stored under Key.
type Job struct {
	Key string
	TTL time.Duration
	Run func(ctx context.Context) (string, error)
}

// Result is a produced value awaiting publication.
type Result struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

// TaskError reports a job that failed or panicked.
type TaskError struct {
	Key   string
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Key, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// Runner executes jobs from a bounded queue.
type Runner struct {
	cache   Cache
	metrics *metrics.Registry
	workers int
	clock   clockwork.Clock
	logger  *slog.Logger

	mu      sync.RWMutex
	queue   chan Job
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	workers   int
	queueSize int
	clock     clockwork.Clock
	logger    *slog.Logger
}

// WithWorkers sets the pool size. Default DefaultWorkers.
func WithWorkers(n int) Option {
	return func(c *runnerConfig) {
		c.workers = n
	}
}

// WithQueueSize sets the queue capacity. Default DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(c *runnerConfig) {
		c.queueSize = n
	}
}

// WithClock sets the clock used for result expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *runnerConfig) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *runnerConfig) {
		c.logger = l
	}
}

// New creates a Runner publishing into cache. Workers start with Start.
func New(cache Cache, m *metrics.Registry, opts ...Option) (*Runner, error) {
	cfg := runnerConfig{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("tasks: workers must be positive, got %d", cfg.workers)
	}
	if cfg.queueSize < 1 {
		return nil, fmt.Errorf("tasks: queue size must be positive, got %d", cfg.queueSize)
	}

	m.Describe(MetricTasks, "Background tasks by outcome")
	for _, outcome := range []string{OutcomeStored, OutcomeDropped, OutcomeFailed, OutcomeRejected} {
		if err := m.AddCounter(MetricTasks, metrics.Labels{"outcome": outcome}, 0); err != nil {
			return nil, err
		}
	}

	return &Runner{
		cache:   cache,
		metrics: m,
		workers: cfg.workers,
		clock:   cfg.clock,
		logger:  cfg.logger,
		queue:   make(chan Job, cfg.queueSize),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	if r.stopped {
		return ErrRunnerStopped
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			r.work(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(r.done)
	}()

	r.logger.Info("tasks: runner started", "workers", r.workers, "queue_size", cap(r.queue))
	return nil
}

// Submit enqueues job and returns immediately.
func (r *Runner) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("tasks: job has no Run function")
	}
	if job.TTL <= 0 {
		job.TTL = DefaultTTL
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrRunnerStopped
	}
	select {
	case r.queue <- job:
		return nil
	default:
		r.count(OutcomeRejected)
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (r *Runner) Pending() int { return len(r.queue) }

// Stop stops accepting jobs and lets the workers drain the queue. If ctx
// ends first, Stop returns ctx.Err() at once: queued jobs are abandoned and
// a job that ignores its context is left to finish on its own.
// Repeated calls are no-op.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.queue)
	started, cancel := r.started, r.cancel
	r.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-r.done:
		cancel()
		return nil
	case <-ctx.Done():
		// Workers still running a job finish in the background.
		cancel()
		r.logger.Warn("tasks: shutdown grace expired, abandoned remaining jobs", "pending", len(r.queue))
		return ctx.Err()
	}
}

func (r *Runner) work(ctx context.Context) {
	for job := range r.queue {
		if ctx.Err() != nil {
			r.logger.Debug("tasks: job abandoned", "key", job.Key)
			continue
		}
		r.run(ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	value, err := r.execute(ctx, job)
	if err != nil {
		r.count(OutcomeFailed)
		r.logger.Warn("tasks: job failed", "key", job.Key, "error", err)
		return
	}

	res := Result{Key: job.Key, Value: value, ExpiresAt: r.clock.Now().Add(job.TTL)}
	if err := r.publish(ctx, res); err != nil {
		r.count(OutcomeDropped)
		r.logger.Debug("tasks: result dropped", "key", res.Key, "error", err)
		return
	}
	r.count(OutcomeStored)
}

// execute runs the job with panic recovery.
func (r *Runner) execute(ctx context.Context, job Job) (value string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &TaskError{Key: job.Key, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()
	value, err = job.Run(ctx)
	if err != nil {
		return "", &TaskError{Key: job.Key, Cause: err}
	}
	return value, nil
}

func (r *Runner) publish(ctx context.Context, res Result) error {
	if r.cache == nil {
		return errors.New("no cache configured")
	}
	// Whole seconds, like SETEX.
	ttl := res.ExpiresAt.Sub(r.clock.Now()).Round(time.Second)
	if ttl <= 0 {
		return errors.New("result expired before publication")
	}
	ctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
	defer cancel()
	return r.cache.Set(ctx, res.Key, res.Value, ttl)
}

func (r *Runner) count(outcome string) {
	if err := r.metrics.IncCounter(MetricTasks, metrics.Labels{"outcome": outcome}); err != nil {
		r.logger.Warn("tasks: metric write failed", "metric", MetricTasks, "error", err)
	}
}
