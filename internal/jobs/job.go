package jobs

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed" // exhausted retries, held in the dead-letter list
)

// IsTerminal reports whether no further dispatch will happen for the status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RetryStrategy defines how retries should be handled
type RetryStrategy string

// Linear and exponential backoff wait at least InitialDelay*N before the
// retry after attempt N. Fixed backoff opts out of that floor and waits
// InitialDelay every time.
const (
	RetryStrategyLinear      RetryStrategy = "linear"
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyFixed       RetryStrategy = "fixed"
)

// RetryPolicy defines the retry behavior for a job
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries"`
	Strategy     RetryStrategy `json:"strategy"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"` // zero means uncapped; a cap below InitialDelay*N lifts the linear floor
}

// DefaultRetryPolicy returns the queue defaults: three retries, linear
// backoff from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		Strategy:     RetryStrategyLinear,
		InitialDelay: time.Second,
	}
}

// CalculateDelay calculates the delay before the retry that follows the
// given (1-based) attempt. The result never decreases with attempt. It is at
// least InitialDelay*attempt unless the strategy is fixed or MaxDelay caps
// it.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration

	switch p.Strategy {
	case RetryStrategyExponential:
		delay = p.InitialDelay * time.Duration(pow2(attempt-1))
	case RetryStrategyFixed:
		delay = p.InitialDelay
	default:
		delay = p.InitialDelay * time.Duration(attempt)
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay
}

func pow2(exp int) int64 {
	if exp > 30 {
		exp = 30
	}
	return int64(1) << exp
}

// Job is a unit of work owned by exactly one queue.
//
// The queue store holds the only mutable copy; every Job handed to callers
// or handlers is a snapshot.
type Job struct {
	ID          string        `json:"id"`
	Queue       string        `json:"queue"`
	Payload     any           `json:"payload"`
	Priority    int           `json:"priority"`
	Status      JobStatus     `json:"status"`
	Attempts    int           `json:"attempts"`
	RetryPolicy RetryPolicy   `json:"retry_policy"`
	Timeout     time.Duration `json:"timeout"`
	CreatedAt   time.Time     `json:"created_at"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Result      any           `json:"result,omitempty"`
	Err         error         `json:"-"`
	LastError   string        `json:"last_error,omitempty"`
}

// NewJobID returns a fresh job identifier
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewJob creates a pending job from the queue defaults and options
func NewJob(queue string, payload any, cfg QueueConfig, now time.Time, opts ...JobOption) *Job {
	j := &Job{
		ID:      NewJobID(),
		Queue:   queue,
		Payload: payload,
		Status:  JobStatusPending,
		RetryPolicy: RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			Strategy:     cfg.Backoff,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     cfg.MaxRetryDelay,
		},
		Timeout:     cfg.Timeout,
		CreatedAt:   now,
		ScheduledAt: now,
	}

	j.Apply(opts...)
	return j
}

// Apply runs opts against j, then clamps ScheduledAt to no earlier than
// CreatedAt and MaxRetries to no less than zero.
func (j *Job) Apply(opts ...JobOption) {
	for _, opt := range opts {
		opt(j)
	}

	if j.ScheduledAt.Before(j.CreatedAt) {
		j.ScheduledAt = j.CreatedAt
	}
	if j.RetryPolicy.MaxRetries < 0 {
		j.RetryPolicy.MaxRetries = 0
	}
}

// MaxAttempts is the total number of executions allowed, the first run
// included.
func (j *Job) MaxAttempts() int {
	return j.RetryPolicy.MaxRetries + 1
}

// CanRetry reports whether another attempt is allowed after a failure
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts()
}

// IsReady reports whether the job may be dispatched at now
func (j *Job) IsReady(now time.Time) bool {
	return !j.ScheduledAt.After(now)
}

// Snapshot returns a copy safe to hand outside the owning store
func (j *Job) Snapshot() Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// JobOption is a functional option for configuring a job
type JobOption func(*Job)

// WithPriority sets the job priority; higher runs first on priority queues
func WithPriority(p int) JobOption {
	return func(j *Job) {
		j.Priority = p
	}
}

// WithRetries overrides the queue's max retries
func WithRetries(n int) JobOption {
	return func(j *Job) {
		j.RetryPolicy.MaxRetries = n
	}
}

// WithRetryDelay overrides the queue's retry delay base
func WithRetryDelay(d time.Duration) JobOption {
	return func(j *Job) {
		j.RetryPolicy.InitialDelay = d
	}
}

// WithBackoff overrides the queue's retry strategy
func WithBackoff(s RetryStrategy) JobOption {
	return func(j *Job) {
		j.RetryPolicy.Strategy = s
	}
}

// WithTimeout sets the job timeout
func WithTimeout(d time.Duration) JobOption {
	return func(j *Job) {
		j.Timeout = d
	}
}

// WithScheduledAt schedules the job for a specific time
func WithScheduledAt(t time.Time) JobOption {
	return func(j *Job) {
		j.ScheduledAt = t
	}
}

// WithDelay schedules the job after a delay
func WithDelay(d time.Duration) JobOption {
	return func(j *Job) {
		j.ScheduledAt = j.CreatedAt.Add(d)
	}
}
