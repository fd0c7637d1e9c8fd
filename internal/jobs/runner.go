package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/metrics"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

const (
	DefaultWorkers       = 4
	DefaultQueueSize     = 64
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Pipeline is the work a job performs.
type Pipeline interface {
	Run(ctx context.Context, segments []string, style string) (*rewrite.Aggregate, error)
}

// Options configures a Runner. Zero fields take defaults; a negative
// Retention disables pruning.
type Options struct {
	Workers       int
	QueueSize     int
	Retention     time.Duration
	SweepInterval time.Duration
}

type task struct {
	id       string
	segments []string
	style    string
}

// Runner drains submitted jobs on a fixed pool of workers. Each job is
// written only by the worker that runs it.
type Runner struct {
	store    Store
	pipeline Pipeline
	opts     Options
	logger   *logging.Logger

	queue chan task
	slots chan struct{}

	mu       sync.RWMutex
	started  bool
	closed   bool
	draining chan struct{}
	stop     context.CancelFunc
	wg       sync.WaitGroup

	clock func() time.Time
}

// NewRunner builds a runner. Call Start before submitting.
func NewRunner(store Store, pipeline Pipeline, opts Options, logger *logging.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Runner{
		store:    store,
		pipeline: pipeline,
		opts:     opts,
		logger:   logger,
		queue:    make(chan task, opts.QueueSize),
		slots:    make(chan struct{}, opts.QueueSize),
		draining: make(chan struct{}),
		clock:    time.Now,
	}
}

// Store returns the runner's job store.
func (r *Runner) Store() Store {
	return r.store
}

// Start launches the workers and the retention janitor. Jobs run detached
// from ctx cancellation; cancelling ctx only stops the janitor.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	jobCtx := context.WithoutCancel(ctx)

	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(jobCtx)
	}
	if r.opts.Retention > 0 {
		r.wg.Add(1)
		go r.janitor(runCtx)
	}
}

// Submit creates a pending job and queues it. A full queue fails with
// ErrQueueFull before any job is created.
func (r *Runner) Submit(ctx context.Context, segments []string, style string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return "", ErrClosed
	}

	select {
	case r.slots <- struct{}{}:
	default:
		return "", ErrQueueFull
	}

	job, err := r.store.Create(ctx, NewJob{
		Identity: OwnerFromContext(ctx),
		Style:    style,
		Segments: len(segments),
	})
	if err != nil {
		<-r.slots
		return "", fmt.Errorf("create job: %w", err)
	}
	metrics.RecordJobTransition(string(StatusPending))

	// Never blocks: a slot was reserved above and queue has the same capacity.
	r.queue <- task{id: job.ID, segments: append([]string(nil), segments...), style: style}
	metrics.SetJobQueueDepth(len(r.slots))
	return job.ID, nil
}

// Status returns a snapshot of the job.
func (r *Runner) Status(ctx context.Context, id string) (Job, error) {
	return r.store.Get(ctx, id)
}

// QueueDepth returns the number of jobs waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.slots)
}

// CheckHealth fails once the runner is closed or when the store cannot be
// read.
func (r *Runner) CheckHealth(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := r.store.Get(ctx, "health-probe"); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("job store: %w", err)
	}
	return nil
}

// Close stops accepting jobs, fails the ones still queued and waits for
// running jobs to finish or ctx to expire.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.draining)
	close(r.queue)
	if r.stop != nil {
		r.stop()
	}
	started := r.started
	r.mu.Unlock()

	if !started {
		r.failQueued(ctx)
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job runner shutdown: %w", ctx.Err())
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for t := range r.queue {
		<-r.slots
		metrics.SetJobQueueDepth(len(r.slots))

		select {
		case <-r.draining:
			r.fail(ctx, t.id, "service shut down before the job started")
			continue
		default:
		}
		r.execute(ctx, t)
	}
}

func (r *Runner) failQueued(ctx context.Context) {
	for t := range r.queue {
		<-r.slots
		r.fail(ctx, t.id, "service shut down before the job started")
	}
	metrics.SetJobQueueDepth(0)
}

// execute runs one job to a terminal status. A panic in the pipeline fails
// the job and leaves the worker running.
func (r *Runner) execute(ctx context.Context, t task) {
	ctx = rewrite.WithJobID(ctx, t.id)

	if err := r.store.MarkProcessing(ctx, t.id); err != nil {
		r.warn("job could not enter processing", t.id, err)
		return
	}
	metrics.RecordJobTransition(string(StatusProcessing))

	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordPanic()
			if r.logger != nil {
				r.logger.Error("job worker panic",
					zap.String("job_id", t.id),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
			}
			r.fail(ctx, t.id, fmt.Sprintf("worker fault: %v", rec))
		}
	}()

	started := r.clock()
	agg, err := r.pipeline.Run(ctx, t.segments, t.style)
	if err != nil {
		r.fail(ctx, t.id, err.Error())
		return
	}

	if err := r.store.MarkCompleted(ctx, t.id, agg); err != nil {
		r.warn("job result could not be stored", t.id, err)
		r.fail(ctx, t.id, "storing result: "+err.Error())
		return
	}
	metrics.RecordJobTransition(string(StatusCompleted))

	if r.logger != nil {
		r.logger.Info("job completed",
			zap.String("job_id", t.id),
			zap.Int("segments", len(t.segments)),
			zap.Int("results", len(agg.Results)),
			zap.Int("failed", len(agg.Failed)),
			zap.Duration("elapsed", r.clock().Sub(started)))
	}
}

func (r *Runner) fail(ctx context.Context, id, reason string) {
	if err := r.store.MarkFailed(ctx, id, reason); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			r.warn("job failure could not be recorded", id, err)
		}
		return
	}
	metrics.RecordJobTransition(string(StatusFailed))
	if r.logger != nil {
		r.logger.Warn("job failed", zap.String("job_id", id), zap.String("reason", reason))
	}
}

func (r *Runner) janitor(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune(ctx)
		}
	}
}

// Prune removes terminal jobs older than the retention period.
func (r *Runner) Prune(ctx context.Context) int {
	if r.opts.Retention <= 0 {
		return 0
	}
	removed, err := r.store.Prune(ctx, r.clock().Add(-r.opts.Retention))
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("job prune failed", zap.Error(err))
		}
		return 0
	}
	if removed > 0 && r.logger != nil {
		r.logger.Debug("pruned expired jobs", zap.Int("removed", removed))
	}
	return removed
}

func (r *Runner) warn(msg, id string, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, zap.String("job_id", id), zap.Error(err))
	}
}

type ownerKey struct{}

// WithOwner records the submitting caller on ctx for Submit.
func WithOwner(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ownerKey{}, identity)
}

// OwnerFromContext returns the identity set by WithOwner, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
