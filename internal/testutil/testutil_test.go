package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jrjohn/arcana-queue/internal/jobs"
)

func TestNewObservedLogger(t *testing.T) {
	logger, logs := NewObservedLogger()
	logger.Debug("hello")
	assert.Equal(t, 1, logs.Len())
}

func TestGenerateTestID(t *testing.T) {
	a, b := GenerateTestID(), GenerateTestID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "test-"))
}

func TestWaitForCondition(t *testing.T) {
	start := time.Now()
	WaitForCondition(t, time.Second, func() bool { return time.Since(start) > 20*time.Millisecond }, "elapsed")
}

func TestRecordingHandler(t *testing.T) {
	boom := errors.New("boom")
	h := &RecordingHandler{Fn: func(_ context.Context, job jobs.Job) (any, error) {
		time.Sleep(10 * time.Millisecond)
		if job.Payload == "bad" {
			return nil, boom
		}
		return job.Payload, nil
	}}

	var wg sync.WaitGroup
	for _, p := range []string{"a", "b", "bad"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, _ = h.Execute(context.Background(), jobs.Job{Payload: p})
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 3, h.CallCount())
	assert.Len(t, h.Calls(), 3)
	assert.GreaterOrEqual(t, h.Peak(), 1)
	assert.LessOrEqual(t, h.Peak(), 3)

	res, err := h.Execute(context.Background(), jobs.Job{Payload: "bad"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
}
