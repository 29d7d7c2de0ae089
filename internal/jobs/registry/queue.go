package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/dispatch"
	"github.com/jrjohn/arcana-queue/internal/jobs/queue"
	"github.com/jrjohn/arcana-queue/internal/jobs/worker"
	"github.com/jrjohn/arcana-queue/internal/resilience"
)

// ProcessConfig configures a queue binding
type ProcessConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Queue is the handle to one registered queue
type Queue struct {
	name    string
	cfg     jobs.QueueConfig
	reg     *Registry
	store   *queue.Store
	limiter *resilience.FixedWindowLimiter
	logger  *zap.Logger

	mu      sync.Mutex
	worker  *Worker
	retired map[*Worker]struct{}
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// Config returns the effective queue config
func (q *Queue) Config() jobs.QueueConfig { return q.cfg }

// Add enqueues payload and returns the job id.
//
// Jobs are dispatched in policy order among those that are ready. A job
// delayed by WithDelay or waiting out a retry backoff does not hold back
// ready jobs queued after it, so FIFO order holds only between ready jobs.
//
// MaxSize bounds pending plus processing jobs. Add returns ErrQueueFull once
// that total reaches MaxSize, even if Size, which counts pending jobs only,
// is lower.
func (q *Queue) Add(payload any, opts ...jobs.JobOption) (string, error) {
	job, err := q.store.Add(payload, opts...)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// AddBulk enqueues one job per payload, the i-th delayed by an extra
// stagger*i. The batch is all-or-nothing.
func (q *Queue) AddBulk(payloads []any, stagger time.Duration, opts ...jobs.JobOption) ([]string, error) {
	added, err := q.store.AddBulk(payloads, stagger, opts...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(added))
	for i, j := range added {
		ids[i] = j.ID
	}
	return ids, nil
}

// Process binds handler to the queue and starts dispatching. A previous
// binding stops taking new jobs; its running jobs finish in the background.
func (q *Queue) Process(handler jobs.Handler, cfg ProcessConfig) (*Worker, error) {
	if handler == nil {
		return nil, jobs.ErrInvalidConfig.WithMessage("handler is required")
	}
	if cfg.Concurrency < 0 || cfg.PollInterval < 0 {
		return nil, jobs.ErrInvalidConfig.WithMessage("concurrency and poll interval must not be negative")
	}
	if q.store.IsTerminated() {
		return nil, jobs.ErrQueueTerminated.WithMessagef("queue %q has been deleted", q.name)
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(q.reg.logger),
		dispatch.WithClock(q.reg.now),
	}
	if q.reg.tracer != nil {
		opts = append(opts, dispatch.WithTracer(q.reg.tracer))
	}
	d := dispatch.New(q.store, handler, dispatch.Config{
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Limiter:      q.limiter,
	}, opts...)
	w := &Worker{queue: q, d: d}

	q.mu.Lock()
	old := q.worker
	q.worker = w
	if old != nil {
		q.retired[old] = struct{}{}
	}
	q.mu.Unlock()

	if old != nil {
		q.logger.Info("Replacing queue binding")
		old.d.Stop()
		go q.drainRetired(old)
	}

	d.Start()
	return w, nil
}

func (q *Queue) drainRetired(w *Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), q.reg.shutdownTimeout)
	defer cancel()

	if err := w.d.Close(ctx); err != nil {
		q.logger.Warn("Retired binding did not drain in time", zap.Error(err))
	}

	q.mu.Lock()
	delete(q.retired, w)
	q.mu.Unlock()
}

// Worker returns the current binding, or nil
func (q *Queue) Worker() *Worker {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.worker
}

func (q *Queue) notify() {
	if w := q.Worker(); w != nil {
		w.d.Notify()
	}
}

func (q *Queue) forwardDeadLetter(job jobs.Job) {
	if q.cfg.DeadLetterQueue == "" {
		return
	}
	q.reg.deadLetter(q.cfg.DeadLetterQueue, job)
}

// Peek returns the head of the pending list
func (q *Queue) Peek() (jobs.Job, bool) { return q.store.Peek() }

// Size returns the number of pending jobs
func (q *Queue) Size() int { return q.store.Size() }

// IsEmpty reports whether no job is pending
func (q *Queue) IsEmpty() bool { return q.store.IsEmpty() }

// Clear drops all pending jobs and returns how many were dropped
func (q *Queue) Clear() int { return q.store.Clear() }

// Drain removes and returns all pending jobs
func (q *Queue) Drain() []jobs.Job { return q.store.Drain() }

// Get returns a pending, running or dead-lettered job
func (q *Queue) Get(id string) (jobs.Job, error) { return q.store.Get(id) }

// Update applies opts to a pending job, re-ordering it if its priority
// changed
func (q *Queue) Update(id string, opts ...jobs.JobOption) (jobs.Job, error) {
	return q.store.Update(id, opts...)
}

// Remove deletes a pending or dead-lettered job
func (q *Queue) Remove(id string) error { return q.store.Remove(id) }

// Failed returns the dead-lettered jobs
func (q *Queue) Failed() []jobs.Job { return q.store.Failed() }

// RetryFailed requeues dead-lettered jobs with attempts reset, as many as
// fit, and returns the number requeued.
func (q *Queue) RetryFailed() int { return q.store.RetryFailed() }

// PurgeFailed drops the dead-lettered jobs
func (q *Queue) PurgeFailed() int { return q.store.PurgeFailed() }

// Pause stops new dispatch
func (q *Queue) Pause() { q.store.Pause() }

// Resume restarts dispatch
func (q *Queue) Resume() { q.store.Resume() }

// IsPaused reports whether dispatch is paused
func (q *Queue) IsPaused() bool { return q.store.IsPaused() }

// Stats returns the queue stats
func (q *Queue) Stats() jobs.Stats { return q.store.Stats() }

func (q *Queue) bindings() []*Worker {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Worker, 0, len(q.retired)+1)
	if q.worker != nil {
		out = append(out, q.worker)
	}
	for w := range q.retired {
		out = append(out, w)
	}
	q.worker = nil
	return out
}

func (q *Queue) terminate() {
	dropped := q.store.Terminate()
	for _, w := range q.bindings() {
		w.d.Terminate(jobs.ErrQueueTerminated)
	}
	if len(dropped) > 0 {
		q.logger.Info("Pending jobs rejected", zap.Int("count", len(dropped)))
	}
}

func (q *Queue) close(ctx context.Context) error {
	var err error
	for _, w := range q.bindings() {
		err = multierr.Append(err, w.d.Close(ctx))
	}
	q.store.Terminate()
	return err
}

// Worker is a running handler binding
type Worker struct {
	queue *Queue
	d     *dispatch.Dispatcher
}

// Stop halts new dispatch for this binding. Running jobs finish; use Wait
// to block until they have.
func (w *Worker) Stop() {
	w.d.Stop()

	q := w.queue
	q.mu.Lock()
	current := q.worker == w
	if current {
		q.worker = nil
		q.retired[w] = struct{}{}
	}
	q.mu.Unlock()

	if current {
		go q.drainRetired(w)
	}
}

// Pause stops new dispatch on the queue
func (w *Worker) Pause() { w.queue.Pause() }

// Resume restarts dispatch on the queue
func (w *Worker) Resume() { w.queue.Resume() }

// IsPaused reports whether the queue is paused
func (w *Worker) IsPaused() bool { return w.queue.IsPaused() }

// Wait blocks until every job this binding dispatched has finished
func (w *Worker) Wait() { w.d.Wait() }

// Stats returns the binding's worker pool statistics
func (w *Worker) Stats() worker.Stats { return w.d.PoolStats() }

// Ping checks that the binding's execution units answer
func (w *Worker) Ping(ctx context.Context) error { return w.d.Ping(ctx) }
