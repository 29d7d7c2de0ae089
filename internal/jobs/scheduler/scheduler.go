package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/registry"
	apperrors "github.com/jrjohn/arcana-queue/pkg/errors"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

const (
	// Common cron expressions
	EveryMinute      = "* * * * *"
	EveryFiveMinutes = "*/5 * * * *"
	EveryHour        = "0 * * * *"
	DailyMidnight    = "0 0 * * *"
	WeeklyMonday     = "0 0 * * 1"
	MonthlyFirst     = "0 0 1 * *"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduledJob represents a recurring enqueue
type ScheduledJob struct {
	Name      string
	Schedule  string // cron expression or @every/@daily descriptor
	Queue     string
	Payload   any
	Priority  int
	Singleton bool // skip a run while the previous job is still pending or running
}

// Info describes a registered schedule
type Info struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Queue     string    `json:"queue"`
	Priority  int       `json:"priority"`
	Singleton bool      `json:"singleton"`
	Runs      int64     `json:"runs"`
	Skipped   int64     `json:"skipped"`
	LastJobID string    `json:"last_job_id,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

type entry struct {
	job      ScheduledJob
	schedule cron.Schedule
	cronID   cron.EntryID

	runs      int64
	skipped   int64
	lastJobID string
	lastRun   time.Time
}

// Scheduler enqueues jobs into registry queues on cron schedules
type Scheduler struct {
	registry *registry.Registry
	logger   *zap.Logger
	cron     *cron.Cron
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

// NewScheduler creates a new scheduler
func NewScheduler(reg *registry.Registry, log *zap.Logger) *Scheduler {
	return &Scheduler{
		registry: reg,
		logger:   logger.OrNop(log),
		cron:     cron.New(cron.WithParser(parser)),
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// RegisterJob registers a scheduled job. Jobs registered after Start are
// scheduled immediately.
func (s *Scheduler) RegisterJob(job ScheduledJob) error {
	if job.Name == "" || job.Queue == "" {
		return jobs.ErrInvalidConfig.WithMessage("scheduled job needs a name and a queue")
	}

	schedule, err := parser.Parse(job.Schedule)
	if err != nil {
		return jobs.ErrInvalidConfig.WithError(fmt.Errorf("invalid cron expression %q: %w", job.Schedule, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name]; exists {
		return apperrors.ErrConflict.WithMessagef("scheduled job %q already registered", job.Name)
	}

	e := &entry{job: job, schedule: schedule}
	s.entries[job.Name] = e
	if s.running {
		s.addLocked(e)
	}

	s.logger.Info("Registered scheduled job",
		zap.String("name", job.Name),
		zap.String("schedule", job.Schedule),
		zap.String("queue", job.Queue),
		zap.Bool("singleton", job.Singleton),
	)
	return nil
}

func (s *Scheduler) addLocked(e *entry) {
	name := e.job.Name
	e.cronID = s.cron.Schedule(e.schedule, cron.FuncJob(func() {
		s.Fire(name)
	}))
}

// Start starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	for _, e := range s.entries {
		s.addLocked(e)
	}
	s.cron.Start()

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

// Stop stops the cron loop and waits for a running enqueue, bounded by ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	for _, e := range s.entries {
		s.cron.Remove(e.cronID)
	}
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fire runs one scheduled enqueue now. It returns the new job id, or ""
// when the run was skipped or failed.
func (s *Scheduler) Fire(name string) string {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return ""
	}
	job := e.job
	lastID := e.lastJobID
	s.mu.Unlock()

	log := s.logger.With(zap.String("name", name), zap.String("queue", job.Queue))

	q, err := s.registry.Get(job.Queue)
	if err != nil {
		log.Error("Scheduled job target queue not found", zap.Error(err))
		s.recordSkip(e)
		return ""
	}

	if job.Singleton && lastID != "" {
		if prev, err := q.Get(lastID); err == nil && !prev.Status.IsTerminal() {
			log.Info("Singleton job already queued or running, skipping",
				zap.String("job_id", lastID),
				zap.String("status", string(prev.Status)),
			)
			s.recordSkip(e)
			return ""
		}
	}

	id, err := q.Add(job.Payload, jobs.WithPriority(job.Priority))
	if err != nil {
		log.Error("Failed to enqueue scheduled job", zap.Error(err))
		s.recordSkip(e)
		return ""
	}

	s.mu.Lock()
	e.runs++
	e.lastJobID = id
	e.lastRun = s.now()
	s.mu.Unlock()

	log.Info("Scheduled job enqueued", zap.String("job_id", id))
	return id
}

func (s *Scheduler) recordSkip(e *entry) {
	s.mu.Lock()
	e.skipped++
	s.mu.Unlock()
}

// ListJobs returns all registered schedules sorted by name
func (s *Scheduler) ListJobs() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, Info{
			Name:      e.job.Name,
			Schedule:  e.job.Schedule,
			Queue:     e.job.Queue,
			Priority:  e.job.Priority,
			Singleton: e.job.Singleton,
			Runs:      e.runs,
			Skipped:   e.skipped,
			LastJobID: e.lastJobID,
			LastRun:   e.lastRun,
			NextRun:   e.schedule.Next(now),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetNextRun returns the next scheduled run time for a job
func (s *Scheduler) GetNextRun(name string) (time.Time, error) {
	s.mu.Lock()
	e, exists := s.entries[name]
	s.mu.Unlock()

	if !exists {
		return time.Time{}, jobs.ErrNotFound.WithMessagef("scheduled job %q not found", name)
	}
	return e.schedule.Next(s.now()), nil
}
