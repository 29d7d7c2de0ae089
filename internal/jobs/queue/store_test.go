package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/testutil"
	apperrors "github.com/jrjohn/arcana-queue/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestStore(t *testing.T, cfg jobs.QueueConfig, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t)), WithClock(clock.Now)}, opts...)
	return New("test", cfg, opts...), clock
}

func claimAll(s *Store, now time.Time) []jobs.Job {
	var out []jobs.Job
	for {
		j, ok := s.Claim(now, 0)
		if !ok {
			return out
		}
		out = append(out, j)
	}
}

func payloads(js []jobs.Job) []any {
	out := make([]any, len(js))
	for i, j := range js {
		out[i] = j.Payload
	}
	return out
}

func TestStore_FIFO(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())

	for _, p := range []string{"a", "b", "c"} {
		_, err := s.Add(p)
		require.NoError(t, err)
	}

	assert.Equal(t, []any{"a", "b", "c"}, payloads(claimAll(s, clock.Now())))
}

func TestStore_LIFO(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyLIFO})

	for _, p := range []string{"a", "b", "c"} {
		_, err := s.Add(p)
		require.NoError(t, err)
	}

	assert.Equal(t, []any{"c", "b", "a"}, payloads(claimAll(s, clock.Now())))
}

func TestStore_PriorityStableTies(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyPriority})

	_, _ = s.Add("low", jobs.WithPriority(1))
	_, _ = s.Add("high", jobs.WithPriority(10))
	_, _ = s.Add("mid", jobs.WithPriority(5))

	got := claimAll(s, clock.Now())
	assert.Equal(t, []any{"high", "mid", "low"}, payloads(got))

	for _, p := range []string{"x", "y", "z"} {
		_, _ = s.Add(p, jobs.WithPriority(3))
	}
	assert.Equal(t, []any{"x", "y", "z"}, payloads(claimAll(s, clock.Now())))
}

func TestStore_PriorityNonIncreasing(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyPriority})
	for _, p := range []int{4, 1, 9, 4, 0, -3, 9, 2} {
		_, err := s.Add(p, jobs.WithPriority(p))
		require.NoError(t, err)
	}

	got := claimAll(s, clock.Now())
	require.Len(t, got, 8)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Priority, got[i].Priority)
	}
}

func TestStore_QueueFull(t *testing.T) {
	s, _ := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxSize: 2})

	_, err := s.Add(1)
	require.NoError(t, err)
	_, err = s.Add(2)
	require.NoError(t, err)

	_, err = s.Add(3)
	assert.True(t, errors.Is(err, jobs.ErrQueueFull))
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, int64(2), s.Stats().Added)
}

func TestStore_CapacityCountsInflight(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxSize: 1, MaxRetries: 1})

	_, err := s.Add("only")
	require.NoError(t, err)
	j, ok := s.Claim(clock.Now(), 0)
	require.True(t, ok)

	_, err = s.Add("more")
	assert.ErrorIs(t, err, jobs.ErrQueueFull)
	assert.Equal(t, 0, s.Size(), "size counts pending only")
	assert.Equal(t, 1, s.Processing())

	// the retry re-insert reuses the claimed slot
	out, err := s.Fail(j.ID, errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, out.Retried)
	assert.Equal(t, 1, s.Size())
}

func TestStore_AddBulk(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())

	added, err := s.AddBulk([]any{"a", "b", "c"}, time.Second)
	require.NoError(t, err)
	require.Len(t, added, 3)

	now := clock.Now()
	assert.Equal(t, now, added[0].ScheduledAt)
	assert.Equal(t, now.Add(time.Second), added[1].ScheduledAt)
	assert.Equal(t, now.Add(2*time.Second), added[2].ScheduledAt)

	j, ok := s.Claim(now, 0)
	require.True(t, ok)
	assert.Equal(t, "a", j.Payload)
	_, ok = s.Claim(now, 0)
	assert.False(t, ok)
}

func TestStore_AddBulk_AllOrNothing(t *testing.T) {
	s, _ := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxSize: 2})

	_, err := s.AddBulk([]any{1, 2, 3}, 0)
	assert.ErrorIs(t, err, jobs.ErrQueueFull)
	assert.Equal(t, 0, s.Size())

	got, err := s.AddBulk(nil, 0)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_EarliestReadySelection(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())

	_, _ = s.Add("delayed", jobs.WithDelay(time.Minute))
	_, _ = s.Add("ready")

	j, ok := s.Claim(clock.Now(), 0)
	require.True(t, ok)
	assert.Equal(t, "ready", j.Payload)

	_, ok = s.Claim(clock.Now(), 0)
	assert.False(t, ok)

	next, ok := s.NextReadyAt()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Minute), next)

	clock.Advance(time.Minute)
	j, ok = s.Claim(clock.Now(), 0)
	require.True(t, ok)
	assert.Equal(t, "delayed", j.Payload)
}

func TestStore_ClaimLimit(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())
	for i := 0; i < 3; i++ {
		_, _ = s.Add(i)
	}

	_, ok := s.Claim(clock.Now(), 2)
	require.True(t, ok)
	_, ok = s.Claim(clock.Now(), 2)
	require.True(t, ok)
	_, ok = s.Claim(clock.Now(), 2)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Processing())
}

func TestStore_ClaimMarksProcessing(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())
	added, _ := s.Add("x")

	j, ok := s.Claim(clock.Now(), 0)
	require.True(t, ok)
	assert.Equal(t, added.ID, j.ID)
	assert.Equal(t, jobs.JobStatusProcessing, j.Status)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.StartedAt)

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusProcessing, got.Status)
}

func TestStore_Release(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())
	_, _ = s.Add("x")

	j, _ := s.Claim(clock.Now(), 0)
	assert.True(t, s.Release(j.ID))
	assert.False(t, s.Release(j.ID))

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 0, s.Processing())
}

func TestStore_Complete(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())
	_, _ = s.Add("x")
	j, _ := s.Claim(clock.Now(), 0)

	done, err := s.Complete(j.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, done.Status)
	assert.Equal(t, "ok", done.Result)

	_, err = s.Complete(j.ID, "again")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	st := s.Stats()
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, 0, st.Processing)
}

func TestStore_RetryThenDeadLetter(t *testing.T) {
	var dead []jobs.Job
	s, clock := setupTestStore(t,
		jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxRetries: 2, RetryDelay: 100 * time.Millisecond},
		WithDeadLetter(func(j jobs.Job) { dead = append(dead, j) }),
	)
	added, _ := s.Add("x")
	boom := errors.New("boom")

	var prevScheduled time.Time
	for attempt := 1; attempt <= 2; attempt++ {
		j, ok := s.Claim(clock.Now(), 0)
		require.True(t, ok, "attempt %d", attempt)
		assert.Equal(t, attempt, j.Attempts)

		out, err := s.Fail(j.ID, boom)
		require.NoError(t, err)
		assert.True(t, out.Retried)
		assert.Equal(t, time.Duration(attempt)*100*time.Millisecond, out.Delay)
		assert.True(t, out.Job.ScheduledAt.After(prevScheduled))
		prevScheduled = out.Job.ScheduledAt

		_, ok = s.Claim(clock.Now(), 0)
		assert.False(t, ok, "retry must wait for its backoff")
		clock.Advance(out.Delay)
	}

	j, ok := s.Claim(clock.Now(), 0)
	require.True(t, ok)
	assert.Equal(t, 3, j.Attempts)

	out, err := s.Fail(j.ID, boom)
	require.NoError(t, err)
	assert.False(t, out.Retried)
	assert.Equal(t, jobs.JobStatusFailed, out.Job.Status)
	assert.Equal(t, "boom", out.Job.LastError)

	require.Len(t, dead, 1)
	assert.Equal(t, added.ID, dead[0].ID)

	st := s.Stats()
	assert.Equal(t, int64(2), st.Retries)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, 1, st.DLQSize)
	assert.Equal(t, 0, st.Pending)

	failed := s.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
}

func TestStore_ZeroRetries(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxRetries: 0})
	_, _ = s.Add("x")
	j, _ := s.Claim(clock.Now(), 0)

	out, err := s.Fail(j.ID, errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, out.Retried)
	assert.Equal(t, 1, s.Stats().DLQSize)
}

func TestStore_ScheduledAtNeverDecreases(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxRetries: 1, RetryDelay: time.Second})
	added, _ := s.Add("x", jobs.WithDelay(time.Hour))

	clock.Advance(time.Hour)
	j, ok := s.Claim(clock.Now(), 0)
	require.True(t, ok)

	// pretend the clock went backwards before the failure is recorded
	clock.Advance(-2 * time.Hour)
	out, err := s.Fail(j.ID, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, added.ScheduledAt, out.Job.ScheduledAt)
}

func TestStore_RetryFailed(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxRetries: 0})
	for i := 0; i < 3; i++ {
		_, _ = s.Add(i)
		j, _ := s.Claim(clock.Now(), 0)
		_, _ = s.Fail(j.ID, errors.New("boom"))
	}
	require.Len(t, s.Failed(), 3)

	assert.Equal(t, 3, s.RetryFailed())
	assert.Empty(t, s.Failed())

	got := claimAll(s, clock.Now())
	require.Len(t, got, 3)
	for _, j := range got {
		assert.Equal(t, 1, j.Attempts)
	}
}

func TestStore_RetryFailed_BoundedByCapacity(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxSize: 2, MaxRetries: 0})
	for i := 0; i < 2; i++ {
		_, _ = s.Add(i)
		j, _ := s.Claim(clock.Now(), 0)
		_, _ = s.Fail(j.ID, errors.New("boom"))
	}
	_, err := s.Add("occupant")
	require.NoError(t, err)

	assert.Equal(t, 1, s.RetryFailed())
	assert.Len(t, s.Failed(), 1)
	assert.Equal(t, 2, s.Size())
}

func TestStore_PurgeFailed(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO})
	_, _ = s.Add("x")
	j, _ := s.Claim(clock.Now(), 0)
	_, _ = s.Fail(j.ID, errors.New("boom"))

	assert.Equal(t, 1, s.PurgeFailed())
	assert.Equal(t, 0, s.PurgeFailed())
	assert.Equal(t, int64(1), s.Stats().Failed, "counters survive a purge")
}

func TestStore_AddDeadLetter(t *testing.T) {
	dlq, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxRetries: 5, Timeout: time.Second})

	src := jobs.Job{ID: "job_1", Queue: "orders", Payload: "p", Priority: 2, Attempts: 4, LastError: "boom"}
	copied, err := dlq.AddDeadLetter(src)
	require.NoError(t, err)

	assert.Equal(t, "job_1", copied.ID)
	assert.Equal(t, "test", copied.Queue)
	assert.Equal(t, 0, copied.Attempts)
	assert.Equal(t, jobs.JobStatusPending, copied.Status)
	assert.Equal(t, 5, copied.RetryPolicy.MaxRetries)
	assert.Equal(t, time.Second, copied.Timeout)
	assert.Equal(t, clock.Now(), copied.ScheduledAt)
	assert.Equal(t, "boom", copied.LastError)
}

func TestStore_PeekGetRemove(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())

	_, ok := s.Peek()
	assert.False(t, ok)
	assert.True(t, s.IsEmpty())

	a, _ := s.Add("a")
	b, _ := s.Add("b")

	head, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, a.ID, head.ID)
	assert.Equal(t, 2, s.Size(), "peek does not remove")

	require.NoError(t, s.Remove(a.ID))
	_, err := s.Get(a.ID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.ErrorIs(t, s.Remove(a.ID), jobs.ErrNotFound)

	j, _ := s.Claim(clock.Now(), 0)
	assert.Equal(t, b.ID, j.ID)
	assert.True(t, apperrors.Is(s.Remove(b.ID), apperrors.ErrConflict))
}

func TestStore_UpdateReordersPriority(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyPriority})

	low, _ := s.Add("low", jobs.WithPriority(1))
	_, _ = s.Add("mid", jobs.WithPriority(5))
	_, _ = s.Add("peer", jobs.WithPriority(9))

	updated, err := s.Update(low.ID, jobs.WithPriority(9), jobs.WithRetries(7))
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Priority)
	assert.Equal(t, 7, updated.RetryPolicy.MaxRetries)

	got := payloads(claimAll(s, clock.Now()))
	assert.Equal(t, []any{"peer", "low", "mid"}, got, "moved behind equal priority")
}

func TestStore_UpdateKeepsFIFOPosition(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())

	a, _ := s.Add("a")
	_, _ = s.Add("b")

	updated, err := s.Update(a.ID, jobs.WithPriority(3), jobs.WithDelay(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), updated.ScheduledAt)

	assert.Equal(t, []any{"b"}, payloads(claimAll(s, clock.Now())))
	clock.Advance(time.Minute)
	assert.Equal(t, []any{"a"}, payloads(claimAll(s, clock.Now())))
}

func TestStore_UpdateRejectsNonPending(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyFIFO})

	_, err := s.Update("missing", jobs.WithPriority(1))
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	running, _ := s.Add("running")
	j, ok := s.Claim(clock.Now(), 0)
	require.True(t, ok)
	require.Equal(t, running.ID, j.ID)

	_, err = s.Update(running.ID, jobs.WithPriority(1))
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	_, err = s.Fail(running.ID, errors.New("boom"))
	require.NoError(t, err)
	_, err = s.Update(running.ID, jobs.WithPriority(1))
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	s.Terminate()
	_, err = s.Update(running.ID)
	assert.ErrorIs(t, err, jobs.ErrQueueTerminated)
}

func TestStore_ClearAndDrain(t *testing.T) {
	s, _ := setupTestStore(t, jobs.DefaultQueueConfig())
	_, _ = s.Add("a")
	_, _ = s.Add("b")

	drained := s.Drain()
	assert.Equal(t, []any{"a", "b"}, payloads(drained))
	assert.True(t, s.IsEmpty())

	_, _ = s.Add("c")
	assert.Equal(t, 1, s.Clear())
	assert.Equal(t, 0, s.Size())
}

func TestStore_PauseResume(t *testing.T) {
	notified := 0
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig(), WithNotify(func() { notified++ }))
	_, _ = s.Add("x")
	assert.Equal(t, 1, notified)

	s.Pause()
	assert.True(t, s.IsPaused())
	assert.True(t, s.Stats().IsPaused)
	_, ok := s.Claim(clock.Now(), 0)
	assert.False(t, ok)

	s.Resume()
	assert.Equal(t, 2, notified)
	_, ok = s.Claim(clock.Now(), 0)
	assert.True(t, ok)
}

func TestStore_Terminate(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())
	_, _ = s.Add("a")
	_, _ = s.Add("b")
	j, _ := s.Claim(clock.Now(), 0)

	dropped := s.Terminate()
	assert.Len(t, dropped, 1)
	assert.True(t, s.IsTerminated())
	assert.Nil(t, s.Terminate())

	_, err := s.Add("c")
	assert.ErrorIs(t, err, jobs.ErrQueueTerminated)
	_, err = s.Complete(j.ID, nil)
	assert.ErrorIs(t, err, jobs.ErrQueueTerminated)
	_, err = s.Fail(j.ID, errors.New("late"))
	assert.ErrorIs(t, err, jobs.ErrQueueTerminated)
	_, ok := s.Claim(clock.Now(), 0)
	assert.False(t, ok)
}

func TestStore_StatsIdempotent(t *testing.T) {
	s, clock := setupTestStore(t, jobs.DefaultQueueConfig())
	_, _ = s.Add("a")
	_, _ = s.Add("b")
	_, _ = s.Claim(clock.Now(), 0)

	assert.Equal(t, s.Stats(), s.Stats())
}

func TestStore_ConcurrentAddClaim(t *testing.T) {
	s, clock := setupTestStore(t, jobs.QueueConfig{Policy: jobs.PolicyPriority})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				_, _ = s.Add(k, jobs.WithPriority(i))
			}
		}(i)
	}
	wg.Wait()

	claimed := make(map[string]bool)
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, ok := s.Claim(clock.Now(), 0)
				if !ok {
					return
				}
				mu.Lock()
				claimed[j.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 400)
	assert.Equal(t, 400, s.Processing())
}
