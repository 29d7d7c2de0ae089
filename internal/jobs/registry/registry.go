package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/queue"
	"github.com/jrjohn/arcana-queue/internal/resilience"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

// DefaultShutdownTimeout bounds how long a replaced binding may drain
const DefaultShutdownTimeout = 30 * time.Second

// Option configures a Registry
type Option func(*Registry)

// WithMetrics sets the Prometheus metrics shared by every queue
func WithMetrics(m *jobs.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTracer sets the tracer used by dispatchers
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithClock overrides time.Now for stores and dispatchers
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithShutdownTimeout bounds the drain of replaced bindings
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Registry) { r.shutdownTimeout = d }
}

// Registry owns a set of named queues
type Registry struct {
	logger          *zap.Logger
	metrics         *jobs.Metrics
	tracer          trace.Tracer
	now             func() time.Time
	shutdownTimeout time.Duration

	mu     sync.RWMutex
	queues map[string]*Queue
}

// New creates an empty registry
func New(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:          logger.OrNop(log),
		now:             time.Now,
		shutdownTimeout: DefaultShutdownTimeout,
		queues:          make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new queue. Names are unique; an existing queue is never
// replaced.
func (r *Registry) Create(name string, cfg jobs.QueueConfig) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, jobs.ErrInvalidConfig.WithMessage("queue name is required")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DeadLetterQueue == name {
		return nil, jobs.ErrInvalidConfig.WithMessagef("queue %q cannot be its own dead-letter queue", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.queues[name]; exists {
		return nil, jobs.ErrDuplicateQueue.WithMessagef("queue %q already exists", name)
	}

	q := &Queue{
		name:    name,
		cfg:     cfg,
		reg:     r,
		logger:  logger.ForQueue(r.logger, name),
		retired: make(map[*Worker]struct{}),
	}
	if cfg.RateLimit != nil {
		q.limiter = resilience.NewFixedWindowLimiter(&resilience.RateLimiterConfig{
			Name:   name,
			Rate:   cfg.RateLimit.MaxRequests,
			Period: cfg.RateLimit.Window,
		})
	}
	q.store = queue.New(name, cfg,
		queue.WithLogger(r.logger),
		queue.WithMetrics(r.metrics),
		queue.WithClock(r.now),
		queue.WithNotify(q.notify),
		queue.WithDeadLetter(q.forwardDeadLetter),
	)

	r.queues[name] = q
	r.logger.Info("Queue created",
		zap.String("queue", name),
		zap.String("policy", string(cfg.Policy)),
		zap.Int("max_size", cfg.MaxSize),
		zap.String("dead_letter_queue", cfg.DeadLetterQueue),
	)
	return q, nil
}

// Get returns the named queue
func (r *Registry) Get(name string) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	if !ok {
		return nil, jobs.ErrNotFound.WithMessagef("queue %q not found", name)
	}
	return q, nil
}

// Has reports whether the named queue exists
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.queues[name]
	return ok
}

// List returns the queue names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Delete removes a queue. Pending jobs are dropped, the binding is stopped
// and its pool terminated; outcomes of jobs still running are discarded.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	q, ok := r.queues[name]
	if ok {
		delete(r.queues, name)
	}
	r.mu.Unlock()

	if !ok {
		return jobs.ErrNotFound.WithMessagef("queue %q not found", name)
	}

	q.terminate()
	r.logger.Info("Queue deleted", zap.String("queue", name))
	return nil
}

// Stats returns the stats of every queue keyed by name
func (r *Registry) Stats() map[string]jobs.Stats {
	r.mu.RLock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	out := make(map[string]jobs.Stats, len(queues))
	for _, q := range queues {
		out[q.name] = q.Stats()
	}
	return out
}

// Health summarizes all queues
func (r *Registry) Health() jobs.HealthCheck {
	return jobs.Health(r.Stats())
}

// Close drains every binding within ctx and deletes all queues
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]*Queue)
	r.mu.Unlock()

	var err error
	for name, q := range queues {
		if cerr := q.close(ctx); cerr != nil {
			err = multierr.Append(err, cerr)
			r.logger.Warn("Queue did not drain cleanly", zap.String("queue", name), zap.Error(cerr))
		}
	}

	r.logger.Info("Registry closed", zap.Int("queues", len(queues)))
	return err
}

// deadLetter copies a job that exhausted its retries into the named queue
func (r *Registry) deadLetter(target string, job jobs.Job) {
	q, err := r.Get(target)
	if err != nil {
		r.logger.Warn("Dead-letter queue not found",
			zap.String("queue", job.Queue),
			zap.String("dead_letter_queue", target),
			zap.String("job_id", job.ID),
		)
		return
	}

	if _, err := q.store.AddDeadLetter(job); err != nil {
		r.logger.Warn("Failed to forward job to dead-letter queue",
			zap.String("queue", job.Queue),
			zap.String("dead_letter_queue", target),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}
