package queue

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/container"
	apperrors "github.com/jrjohn/arcana-queue/pkg/errors"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

// Store holds the jobs of one named queue.
//
// Pending jobs live in items, ordered by the queue policy. A claimed job
// moves to inflight and keeps its capacity slot until it completes, is
// rescheduled or is dead-lettered, so a retry never overflows MaxSize.
type Store struct {
	name     string
	cfg      jobs.QueueConfig
	logger   *zap.Logger
	metrics  *jobs.Metrics
	counters *jobs.Counters
	now      func() time.Time
	notify   func()
	onDead   func(jobs.Job)

	mu         sync.Mutex
	items      []*jobs.Job
	inflight   map[string]*jobs.Job
	dead       []*jobs.Job
	paused     bool
	terminated bool
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the Prometheus metrics sink
func WithMetrics(m *jobs.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithNotify registers fn to be called, outside the store lock, whenever
// work may have become available.
func WithNotify(fn func()) Option {
	return func(s *Store) { s.notify = fn }
}

// WithDeadLetter registers fn to receive a copy of every job that exhausts
// its retries. fn is called outside the store lock.
func WithDeadLetter(fn func(jobs.Job)) Option {
	return func(s *Store) { s.onDead = fn }
}

// New creates a store for a validated queue config
func New(name string, cfg jobs.QueueConfig, opts ...Option) *Store {
	s := &Store{
		name:     name,
		cfg:      cfg.WithDefaults(),
		counters: &jobs.Counters{},
		now:      time.Now,
		inflight: make(map[string]*jobs.Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.ForQueue(s.logger, name)
	return s
}

// Name returns the queue name
func (s *Store) Name() string { return s.name }

// Config returns the effective queue config
func (s *Store) Config() jobs.QueueConfig { return s.cfg }

// Counters returns the live counters
func (s *Store) Counters() *jobs.Counters { return s.counters }

// Add enqueues a new job built from the queue defaults and opts
func (s *Store) Add(payload any, opts ...jobs.JobOption) (jobs.Job, error) {
	s.mu.Lock()
	if err := s.admitLocked(1); err != nil {
		s.mu.Unlock()
		return jobs.Job{}, err
	}

	job := jobs.NewJob(s.name, payload, s.cfg, s.now(), opts...)
	s.insertLocked(job)
	s.counters.Added.Add(1)
	snap := job.Snapshot()
	pending := len(s.items)
	s.mu.Unlock()

	s.metrics.RecordEnqueued(s.name)
	s.metrics.SetPending(s.name, pending)
	s.logger.Debug("Job enqueued",
		zap.String("job_id", snap.ID),
		zap.Int("priority", snap.Priority),
		zap.Time("scheduled_at", snap.ScheduledAt),
	)
	s.signal()

	return snap, nil
}

// AddBulk enqueues one job per payload. The i-th job is delayed by an extra
// stagger*i on top of any delay in opts. Either every job is added or, if
// the batch does not fit, none is.
func (s *Store) AddBulk(payloads []any, stagger time.Duration, opts ...jobs.JobOption) ([]jobs.Job, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if err := s.admitLocked(len(payloads)); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := s.now()
	out := make([]jobs.Job, 0, len(payloads))
	for i, payload := range payloads {
		job := jobs.NewJob(s.name, payload, s.cfg, now, opts...)
		job.ScheduledAt = job.ScheduledAt.Add(stagger * time.Duration(i))
		s.insertLocked(job)
		out = append(out, job.Snapshot())
	}
	s.counters.Added.Add(int64(len(payloads)))
	pending := len(s.items)
	s.mu.Unlock()

	for range out {
		s.metrics.RecordEnqueued(s.name)
	}
	s.metrics.SetPending(s.name, pending)
	s.logger.Debug("Jobs enqueued", zap.Int("count", len(out)), zap.Duration("stagger", stagger))
	s.signal()

	return out, nil
}

// AddDeadLetter enqueues a copy of a job that exhausted its retries in
// another queue. The copy keeps the id and payload, restarts with zero
// attempts, and takes this queue's retry and timeout defaults.
func (s *Store) AddDeadLetter(src jobs.Job) (jobs.Job, error) {
	s.mu.Lock()
	if err := s.admitLocked(1); err != nil {
		s.mu.Unlock()
		return jobs.Job{}, err
	}

	now := s.now()
	job := jobs.NewJob(s.name, src.Payload, s.cfg, now, jobs.WithPriority(src.Priority))
	job.ID = src.ID
	job.LastError = src.LastError
	s.insertLocked(job)
	s.counters.Added.Add(1)
	snap := job.Snapshot()
	pending := len(s.items)
	s.mu.Unlock()

	s.metrics.RecordEnqueued(s.name)
	s.metrics.SetPending(s.name, pending)
	s.logger.Info("Dead-lettered job received",
		zap.String("job_id", snap.ID),
		zap.String("source_queue", src.Queue),
	)
	s.signal()

	return snap, nil
}

// admitLocked checks that n more jobs fit
func (s *Store) admitLocked(n int) error {
	if s.terminated {
		return jobs.ErrQueueTerminated.WithMessagef("queue %q has been deleted", s.name)
	}
	if s.cfg.MaxSize > 0 && len(s.items)+len(s.inflight)+n > s.cfg.MaxSize {
		s.metrics.RecordRejected(s.name)
		return jobs.ErrQueueFull.WithMessagef("queue %q is full (max %d)", s.name, s.cfg.MaxSize)
	}
	return nil
}

func (s *Store) insertLocked(job *jobs.Job) {
	switch s.cfg.Policy {
	case jobs.PolicyLIFO:
		s.items = append(s.items, nil)
		copy(s.items[1:], s.items)
		s.items[0] = job
	case jobs.PolicyPriority:
		s.items = container.InsertByPriority(s.items, job, func(j *jobs.Job) int { return j.Priority })
	default:
		s.items = append(s.items, job)
	}
}

// Claim removes the first job, in list order, whose ScheduledAt is not after
// now, and marks it processing. Delayed jobs never block ready ones behind
// them, so dispatch order is the list order restricted to ready jobs.
//
// Nothing is claimed while the queue is paused or terminated, or when limit
// is positive and limit jobs are already in flight.
func (s *Store) Claim(now time.Time, limit int) (jobs.Job, bool) {
	s.mu.Lock()

	if s.paused || s.terminated || (limit > 0 && len(s.inflight) >= limit) {
		s.mu.Unlock()
		return jobs.Job{}, false
	}

	idx := -1
	for i, j := range s.items {
		if j.IsReady(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return jobs.Job{}, false
	}

	job := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	job.Status = jobs.JobStatusProcessing
	job.Attempts++
	started := now
	job.StartedAt = &started
	s.inflight[job.ID] = job
	snap := job.Snapshot()
	pending := len(s.items)
	s.mu.Unlock()

	s.metrics.RecordStarted(s.name)
	s.metrics.SetPending(s.name, pending)

	return snap, true
}

// Release hands a claimed job back without counting the attempt
func (s *Store) Release(id string) bool {
	s.mu.Lock()
	job, ok := s.inflight[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.inflight, id)
	job.Attempts--
	job.Status = jobs.JobStatusPending
	job.StartedAt = nil
	s.insertLocked(job)
	pending := len(s.items)
	s.mu.Unlock()

	s.metrics.RecordReleased(s.name)
	s.metrics.SetPending(s.name, pending)
	s.signal()
	return true
}

// Complete records a successful attempt
func (s *Store) Complete(id string, result any) (jobs.Job, error) {
	s.mu.Lock()
	job, err := s.takeInflightLocked(id)
	if err != nil {
		s.mu.Unlock()
		return jobs.Job{}, err
	}

	now := s.now()
	job.Status = jobs.JobStatusCompleted
	job.CompletedAt = &now
	job.Result = result
	job.Err = nil
	s.counters.Processed.Add(1)
	snap := job.Snapshot()
	s.mu.Unlock()

	s.metrics.RecordCompleted(s.name, runDuration(snap, now))
	s.logger.Debug("Job completed", zap.String("job_id", id), zap.Int("attempts", snap.Attempts))
	s.signal()

	return snap, nil
}

// Outcome describes what happened to a failed job
type Outcome struct {
	Job     jobs.Job
	Retried bool
	Delay   time.Duration
}

// Fail records a failed attempt. The job is rescheduled while attempts
// remain, otherwise it moves to the dead-letter list and a copy is handed
// to the dead-letter callback.
func (s *Store) Fail(id string, jobErr error) (Outcome, error) {
	s.mu.Lock()
	job, err := s.takeInflightLocked(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}

	now := s.now()
	job.Err = jobErr
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	var out Outcome
	if job.CanRetry() {
		out.Retried = true
		out.Delay = job.RetryPolicy.CalculateDelay(job.Attempts)
		next := now.Add(out.Delay)
		if next.After(job.ScheduledAt) {
			job.ScheduledAt = next
		}
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		s.insertLocked(job)
		s.counters.Retries.Add(1)
	} else {
		job.Status = jobs.JobStatusFailed
		job.CompletedAt = &now
		s.dead = append(s.dead, job)
		s.counters.Failed.Add(1)
	}
	out.Job = job.Snapshot()
	pending := len(s.items)
	s.mu.Unlock()

	s.metrics.RecordFailed(s.name, runDuration(out.Job, now), out.Retried)
	s.metrics.SetPending(s.name, pending)

	if out.Retried {
		s.logger.Warn("Job failed, scheduled for retry",
			zap.String("job_id", id),
			zap.Int("attempt", out.Job.Attempts),
			zap.Duration("delay", out.Delay),
			zap.Error(jobErr),
		)
		s.signal()
	} else {
		s.logger.Error("Job exhausted retries, moved to dead-letter list",
			zap.String("job_id", id),
			zap.Int("attempts", out.Job.Attempts),
			zap.Error(jobErr),
		)
		if s.onDead != nil {
			s.onDead(out.Job)
		}
	}

	return out, nil
}

func (s *Store) takeInflightLocked(id string) (*jobs.Job, error) {
	if s.terminated {
		return nil, jobs.ErrQueueTerminated.WithMessagef("queue %q has been deleted", s.name)
	}
	job, ok := s.inflight[id]
	if !ok {
		return nil, jobs.ErrNotFound.WithMessagef("job %q is not in flight", id)
	}
	delete(s.inflight, id)
	return job, nil
}

func runDuration(j jobs.Job, now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	return now.Sub(*j.StartedAt)
}

// Peek returns the head of the pending list without removing it
func (s *Store) Peek() (jobs.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return jobs.Job{}, false
	}
	return s.items[0].Snapshot(), true
}

// Size returns the number of pending jobs
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// IsEmpty reports whether no job is pending
func (s *Store) IsEmpty() bool {
	return s.Size() == 0
}

// Processing returns the number of jobs in flight
func (s *Store) Processing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Clear drops every pending job and returns how many were dropped
func (s *Store) Clear() int {
	return len(s.Drain())
}

// Drain removes and returns every pending job in list order
func (s *Store) Drain() []jobs.Job {
	s.mu.Lock()
	out := snapshots(s.items)
	s.items = nil
	s.mu.Unlock()

	s.metrics.SetPending(s.name, 0)
	return out
}

// Get looks a job up among pending, in-flight and dead-lettered jobs
func (s *Store) Get(id string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.inflight[id]; ok {
		return j.Snapshot(), nil
	}
	for _, j := range s.items {
		if j.ID == id {
			return j.Snapshot(), nil
		}
	}
	for _, j := range s.dead {
		if j.ID == id {
			return j.Snapshot(), nil
		}
	}
	return jobs.Job{}, jobs.ErrNotFound.WithMessagef("job %q not found in queue %q", id, s.name)
}

// Update applies opts to a pending job and returns the updated copy. A job
// whose priority changes on a priority queue is moved to its new position,
// behind jobs of equal priority. Processing and dead-lettered jobs cannot be
// updated.
func (s *Store) Update(id string, opts ...jobs.JobOption) (jobs.Job, error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return jobs.Job{}, jobs.ErrQueueTerminated.WithMessagef("queue %q has been deleted", s.name)
	}
	if _, ok := s.inflight[id]; ok {
		s.mu.Unlock()
		return jobs.Job{}, apperrors.ErrConflict.WithMessagef("job %q is processing", id)
	}

	for i, j := range s.items {
		if j.ID != id {
			continue
		}
		prio := j.Priority
		j.Apply(opts...)
		if s.cfg.Policy == jobs.PolicyPriority && j.Priority != prio {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.insertLocked(j)
		}
		snap := j.Snapshot()
		s.mu.Unlock()

		s.logger.Debug("Job updated", zap.String("job_id", id))
		s.signal()
		return snap, nil
	}

	for _, j := range s.dead {
		if j.ID == id {
			s.mu.Unlock()
			return jobs.Job{}, apperrors.ErrConflict.WithMessagef("job %q has failed; retry it first", id)
		}
	}
	s.mu.Unlock()
	return jobs.Job{}, jobs.ErrNotFound.WithMessagef("job %q not found in queue %q", id, s.name)
}

// Remove deletes a pending or dead-lettered job. In-flight jobs cannot be
// removed.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.inflight[id]; ok {
		s.mu.Unlock()
		return apperrors.ErrConflict.WithMessagef("job %q is processing", id)
	}
	for i, j := range s.items {
		if j.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			pending := len(s.items)
			s.mu.Unlock()
			s.metrics.SetPending(s.name, pending)
			return nil
		}
	}
	for i, j := range s.dead {
		if j.ID == id {
			s.dead = append(s.dead[:i], s.dead[i+1:]...)
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()
	return jobs.ErrNotFound.WithMessagef("job %q not found in queue %q", id, s.name)
}

// Failed returns the dead-letter list, oldest first
func (s *Store) Failed() []jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshots(s.dead)
}

// RetryFailed moves dead-lettered jobs back to pending with their attempts
// reset. On a bounded queue only as many as fit are moved; the rest stay
// dead-lettered. It returns the number moved.
func (s *Store) RetryFailed() int {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return 0
	}

	now := s.now()
	moved := 0
	for len(s.dead) > 0 {
		if s.cfg.MaxSize > 0 && len(s.items)+len(s.inflight) >= s.cfg.MaxSize {
			break
		}
		job := s.dead[0]
		s.dead[0] = nil
		s.dead = s.dead[1:]

		job.Attempts = 0
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		job.Err = nil
		if job.ScheduledAt.Before(now) {
			job.ScheduledAt = now
		}
		s.insertLocked(job)
		moved++
	}
	pending := len(s.items)
	s.mu.Unlock()

	if moved > 0 {
		s.metrics.SetPending(s.name, pending)
		s.logger.Info("Dead-lettered jobs requeued", zap.Int("count", moved))
		s.signal()
	}
	return moved
}

// PurgeFailed empties the dead-letter list and returns how many were dropped
func (s *Store) PurgeFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.dead)
	s.dead = nil
	return n
}

// Pause stops new claims. In-flight jobs are unaffected.
func (s *Store) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume allows claims again
func (s *Store) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.signal()
}

// IsPaused reports whether claims are stopped
func (s *Store) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stats returns a snapshot of counters and sizes
func (s *Store) Stats() jobs.Stats {
	s.mu.Lock()
	st := jobs.Stats{
		Name:       s.name,
		Pending:    len(s.items),
		Processing: len(s.inflight),
		DLQSize:    len(s.dead),
		IsPaused:   s.paused,
	}
	s.mu.Unlock()

	s.counters.Fill(&st)
	return st
}

// Terminate rejects all further operations and returns the pending jobs
// that were dropped. Later completions of in-flight jobs fail with
// ErrQueueTerminated.
func (s *Store) Terminate() []jobs.Job {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.terminated = true
	dropped := snapshots(s.items)
	s.items = nil
	s.inflight = make(map[string]*jobs.Job)
	s.dead = nil
	s.mu.Unlock()

	s.metrics.Forget(s.name)
	s.logger.Info("Queue terminated", zap.Int("dropped", len(dropped)))
	return dropped
}

// IsTerminated reports whether Terminate has been called
func (s *Store) IsTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// NextReadyAt returns the earliest ScheduledAt among pending jobs
func (s *Store) NextReadyAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	for _, j := range s.items {
		if next.IsZero() || j.ScheduledAt.Before(next) {
			next = j.ScheduledAt
		}
	}
	return next, !next.IsZero()
}

func (s *Store) signal() {
	if s.notify != nil {
		s.notify()
	}
}

func snapshots(src []*jobs.Job) []jobs.Job {
	out := make([]jobs.Job, len(src))
	for i, j := range src {
		out[i] = j.Snapshot()
	}
	return out
}
