package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/queue"
	"github.com/jrjohn/arcana-queue/internal/jobs/worker"
	"github.com/jrjohn/arcana-queue/internal/resilience"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

const tracerName = "github.com/jrjohn/arcana-queue/dispatch"

// Span attribute keys
var (
	AttrQueue   = attribute.Key("queue.name")
	AttrJobID   = attribute.Key("job.id")
	AttrAttempt = attribute.Key("job.attempt")
	AttrRetried = attribute.Key("job.retried")
)

// Config configures a dispatcher
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	Limiter      *resilience.FixedWindowLimiter // optional
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:  jobs.DefaultConcurrency,
		PollInterval: jobs.DefaultPollInterval,
	}
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher moves ready jobs from one queue store into a worker pool,
// keeping at most Concurrency jobs of the queue in flight.
//
// A single goroutine claims jobs, so the claim order is the store's selection
// order. It wakes on Notify and on every PollInterval tick so that delayed
// jobs are picked up once due.
type Dispatcher struct {
	store   *queue.Store
	handler jobs.Handler
	pool    *worker.Pool
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	notify   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	loopCtx  context.Context
	cancel   context.CancelFunc
	running  atomic.Bool
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New creates a dispatcher and its worker pool. Call Start to begin.
func New(store *queue.Store, handler jobs.Handler, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = jobs.DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = jobs.DefaultPollInterval
	}

	d := &Dispatcher{
		store:    store,
		handler:  handler,
		cfg:      cfg,
		now:      time.Now,
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	d.logger = logger.ForQueue(d.logger, store.Name())
	d.loopCtx, d.cancel = context.WithCancel(context.Background())

	d.pool = worker.NewPool(d.execute, worker.PoolConfig{
		Name: store.Name(),
		Size: cfg.Concurrency,
	}, d.logger)

	return d
}

// execute is the execution unit body: one handler call for one job snapshot
func (d *Dispatcher) execute(ctx context.Context, data any) (any, error) {
	job, ok := data.(jobs.Job)
	if !ok {
		return nil, jobs.ErrHandler.WithMessagef("unexpected payload %T", data)
	}
	return d.handler.Execute(ctx, job)
}

// Start launches the dispatch loop
func (d *Dispatcher) Start() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}

	d.logger.Info("Starting dispatcher",
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Bool("rate_limited", d.cfg.Limiter != nil),
	)
	go d.loop()
}

// Notify wakes the loop. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.loopDone)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.dispatchReady()

		select {
		case <-d.stopCh:
			return
		case <-d.notify:
		case <-ticker.C:
		}
	}
}

// dispatchReady claims and submits jobs until none is ready or the
// concurrency ceiling is reached.
func (d *Dispatcher) dispatchReady() {
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		job, ok := d.store.Claim(d.now(), d.cfg.Concurrency)
		if !ok {
			return
		}

		if d.cfg.Limiter != nil {
			if err := d.cfg.Limiter.Wait(d.loopCtx); err != nil {
				// stopped while throttled: the attempt never started
				d.store.Release(job.ID)
				return
			}
		}

		d.inflight.Add(1)
		go d.run(job)
	}
}

// run executes one attempt and records its outcome
func (d *Dispatcher) run(job jobs.Job) {
	defer d.inflight.Done()

	log := d.logger.With(
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
	)

	ctx, span := d.tracer.Start(context.Background(), "job.execute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			AttrQueue.String(job.Queue),
			AttrJobID.String(job.ID),
			AttrAttempt.Int(job.Attempts),
		),
	)
	defer span.End()

	cancel := context.CancelFunc(func() {})
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	log.Debug("Processing job")
	start := time.Now()

	result, rejected, err := d.await(ctx, job)
	duration := time.Since(start)

	if rejected && !d.store.IsTerminated() {
		// the binding was replaced before the job reached a unit
		d.store.Release(job.ID)
		span.SetStatus(codes.Unset, "released")
		return
	}

	if err == nil {
		if _, cerr := d.store.Complete(job.ID, result); cerr != nil {
			d.ignoreLate(log, cerr)
			return
		}
		span.SetStatus(codes.Ok, "")
		log.Info("Job completed", zap.Duration("duration", duration))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	out, ferr := d.store.Fail(job.ID, err)
	if ferr != nil {
		d.ignoreLate(log, ferr)
		return
	}
	span.SetAttributes(AttrRetried.Bool(out.Retried))
}

// await submits the job and waits for its reply or its deadline. A timed out
// unit is not interrupted; its late reply is dropped. rejected reports that
// the pool dropped the job without running it; a handler error never sets
// it.
func (d *Dispatcher) await(ctx context.Context, job jobs.Job) (result any, rejected bool, err error) {
	replies, err := d.pool.Submit(ctx, job.ID, job)
	if err != nil {
		return nil, true, err
	}

	select {
	case msg := <-replies:
		if msg.Type != worker.MessageError {
			return msg.Data, false, nil
		}
		if msg.Rejected {
			return nil, true, msg.Err
		}
		if errors.Is(msg.Err, context.DeadlineExceeded) && job.Timeout > 0 {
			return nil, false, timeoutError(job)
		}
		return nil, false, jobs.HandlerError(msg.Err)
	case <-ctx.Done():
		return nil, false, timeoutError(job)
	}
}

func timeoutError(job jobs.Job) error {
	return jobs.ErrTimeout.WithMessagef("job %s timed out after %s", job.ID, job.Timeout)
}

func (d *Dispatcher) ignoreLate(log *zap.Logger, err error) {
	if errors.Is(err, jobs.ErrQueueTerminated) {
		log.Debug("Dropping outcome for deleted queue")
		return
	}
	log.Error("Failed to record job outcome", zap.Error(err))
}

// Stop halts new dispatch. Jobs already handed to the pool keep running.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.cancel()
		if d.running.Load() {
			<-d.loopDone
			d.logger.Debug("Dispatcher stopped")
		}
	})
}

// Wait blocks until every dispatched job has recorded its outcome
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Close stops dispatch, waits for in-flight jobs and shuts the pool down,
// giving up when ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.Stop()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.pool.Terminate(jobs.ErrPoolTerminated)
		return ctx.Err()
	}
	return d.pool.Shutdown(ctx)
}

// Terminate stops dispatch and force-terminates the pool with cause
func (d *Dispatcher) Terminate(cause error) int {
	d.Stop()
	return d.pool.Terminate(cause)
}

// PoolStats returns the worker pool statistics
func (d *Dispatcher) PoolStats() worker.Stats {
	return d.pool.Stats()
}

// Ping checks that the worker pool answers
func (d *Dispatcher) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}
