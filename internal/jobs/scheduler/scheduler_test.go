package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/registry"
	"github.com/jrjohn/arcana-queue/internal/testutil"
	apperrors "github.com/jrjohn/arcana-queue/pkg/errors"
)

func setupTestScheduler(t *testing.T) (*Scheduler, *registry.Registry) {
	t.Helper()
	logger, _ := testutil.NewObservedLogger()
	reg := registry.New(logger)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Create("reports", jobs.QueueConfig{})
	require.NoError(t, err)

	sched := NewScheduler(reg, logger)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	return sched, reg
}

func TestScheduler_RegisterJob(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	err := sched.RegisterJob(ScheduledJob{
		Name:     "nightly",
		Schedule: DailyMidnight,
		Queue:    "reports",
		Payload:  map[string]string{"type": "daily"},
		Priority: 3,
	})
	require.NoError(t, err)

	list := sched.ListJobs()
	require.Len(t, list, 1)
	assert.Equal(t, "nightly", list[0].Name)
	assert.Equal(t, "reports", list[0].Queue)
	assert.Equal(t, 3, list[0].Priority)
	assert.False(t, list[0].NextRun.IsZero())
}

func TestScheduler_RegisterJob_Invalid(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	tests := []struct {
		name string
		job  ScheduledJob
	}{
		{"bad expression", ScheduledJob{Name: "x", Schedule: "not a cron", Queue: "reports"}},
		{"seconds field", ScheduledJob{Name: "x", Schedule: "0 0 0 * * *", Queue: "reports"}},
		{"missing queue", ScheduledJob{Name: "x", Schedule: EveryMinute}},
		{"missing name", ScheduledJob{Schedule: EveryMinute, Queue: "reports"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sched.RegisterJob(tt.job)
			assert.ErrorIs(t, err, jobs.ErrInvalidConfig)
		})
	}
	assert.Empty(t, sched.ListJobs())
}

func TestScheduler_RegisterJob_Duplicate(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	job := ScheduledJob{Name: "dup", Schedule: EveryHour, Queue: "reports"}
	require.NoError(t, sched.RegisterJob(job))
	assert.ErrorIs(t, sched.RegisterJob(job), apperrors.ErrConflict)
}

func TestScheduler_FireEnqueues(t *testing.T) {
	sched, reg := setupTestScheduler(t)
	require.NoError(t, sched.RegisterJob(ScheduledJob{
		Name: "sync", Schedule: EveryFiveMinutes, Queue: "reports", Payload: "full", Priority: 7,
	}))

	id := sched.Fire("sync")
	require.NotEmpty(t, id)

	q, _ := reg.Get("reports")
	job, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "full", job.Payload)
	assert.Equal(t, 7, job.Priority)

	info := sched.ListJobs()[0]
	assert.Equal(t, int64(1), info.Runs)
	assert.Equal(t, id, info.LastJobID)
	assert.False(t, info.LastRun.IsZero())
}

func TestScheduler_SingletonSkipsWhilePending(t *testing.T) {
	sched, reg := setupTestScheduler(t)
	require.NoError(t, sched.RegisterJob(ScheduledJob{
		Name: "cleanup", Schedule: EveryMinute, Queue: "reports", Singleton: true,
	}))

	first := sched.Fire("cleanup")
	require.NotEmpty(t, first)
	assert.Empty(t, sched.Fire("cleanup"), "previous run is still pending")

	q, _ := reg.Get("reports")
	assert.Equal(t, 1, q.Size())

	// once the previous job is gone the next run goes through
	require.NoError(t, q.Remove(first))
	assert.NotEmpty(t, sched.Fire("cleanup"))

	info := sched.ListJobs()[0]
	assert.Equal(t, int64(2), info.Runs)
	assert.Equal(t, int64(1), info.Skipped)
}

func TestScheduler_NonSingletonAlwaysEnqueues(t *testing.T) {
	sched, reg := setupTestScheduler(t)
	require.NoError(t, sched.RegisterJob(ScheduledJob{Name: "ping", Schedule: EveryMinute, Queue: "reports"}))

	sched.Fire("ping")
	sched.Fire("ping")

	q, _ := reg.Get("reports")
	assert.Equal(t, 2, q.Size())
}

func TestScheduler_FireMissingQueue(t *testing.T) {
	sched, _ := setupTestScheduler(t)
	require.NoError(t, sched.RegisterJob(ScheduledJob{Name: "orphan", Schedule: EveryMinute, Queue: "nowhere"}))

	assert.Empty(t, sched.Fire("orphan"))
	assert.Equal(t, int64(1), sched.ListJobs()[0].Skipped)
	assert.Empty(t, sched.Fire("unknown"))
}

func TestScheduler_StartStop(t *testing.T) {
	sched, reg := setupTestScheduler(t)
	require.NoError(t, sched.RegisterJob(ScheduledJob{Name: "tick", Schedule: "@every 1s", Queue: "reports"}))

	require.NoError(t, sched.Start())
	assert.Error(t, sched.Start())

	q, _ := reg.Get("reports")
	testutil.WaitForCondition(t, 3*time.Second, func() bool { return q.Size() >= 1 }, "cron fired")

	require.NoError(t, sched.Stop(context.Background()))
	require.NoError(t, sched.Stop(context.Background()))
}

func TestScheduler_GetNextRun(t *testing.T) {
	sched, _ := setupTestScheduler(t)
	require.NoError(t, sched.RegisterJob(ScheduledJob{Name: "hourly", Schedule: EveryHour, Queue: "reports"}))

	next, err := sched.GetNextRun("hourly")
	require.NoError(t, err)
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))

	_, err = sched.GetNextRun("missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}
