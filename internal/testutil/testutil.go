package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jrjohn/arcana-queue/internal/jobs"
)

// testIDCounter is used to generate unique test IDs
var testIDCounter uint64

// NewTestLogger creates a logger writing to t.Log.
// Only use it where no goroutine can outlive the test.
func NewTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewNopLogger creates a no-op logger for benchmarks
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}

// NewObservedLogger creates a logger that records entries in memory.
// It is safe to use from goroutines that outlive the test.
func NewObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// WaitForCondition waits for a condition to be true
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for condition: %s", message)
}

// GenerateTestID generates a unique test ID using an atomic counter
func GenerateTestID() string {
	id := atomic.AddUint64(&testIDCounter, 1)
	return fmt.Sprintf("test-%d-%d", time.Now().UnixNano(), id)
}

// SkipIfShort skips the test if running in short mode
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}
}

// RecordingHandler is a jobs.Handler that records every call and tracks
// the peak number of concurrent executions.
type RecordingHandler struct {
	// Fn, if set, produces the result of each call
	Fn func(ctx context.Context, job jobs.Job) (any, error)

	mu      sync.Mutex
	calls   []jobs.Job
	running int
	peak    int
}

// Execute implements jobs.Handler
func (h *RecordingHandler) Execute(ctx context.Context, job jobs.Job) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, job)
	h.running++
	if h.running > h.peak {
		h.peak = h.running
	}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running--
		h.mu.Unlock()
	}()

	if h.Fn != nil {
		return h.Fn(ctx, job)
	}
	return nil, nil
}

// Calls returns a copy of the recorded calls in call order
func (h *RecordingHandler) Calls() []jobs.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]jobs.Job, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallCount returns the number of recorded calls
func (h *RecordingHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// Peak returns the highest observed concurrency
func (h *RecordingHandler) Peak() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}
