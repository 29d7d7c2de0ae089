package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Name   string        `mapstructure:"name"`
	Rate   int           `mapstructure:"rate"`   // requests per period
	Period time.Duration `mapstructure:"period"` // window length
}

// RateLimiterMetrics holds rate limiter metrics
type RateLimiterMetrics struct {
	TotalRequests   int64
	AllowedRequests int64
	WaitedRequests  int64
	CanceledWaits   int64
}

// FixedWindowLimiter admits at most Rate requests per Period.
//
// The window restarts at its boundary. A caller that finds the window
// exhausted sleeps until the boundary and then competes again; there is no
// fairness between waiters.
type FixedWindowLimiter struct {
	config *RateLimiterConfig
	now    func() time.Time

	mutex       sync.Mutex
	windowStart time.Time
	count       int
	metrics     RateLimiterMetrics
}

// NewFixedWindowLimiter creates a new fixed window rate limiter
func NewFixedWindowLimiter(config *RateLimiterConfig) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		config: config,
		now:    time.Now,
	}
}

// Name returns the limiter name
func (l *FixedWindowLimiter) Name() string {
	return l.config.Name
}

// Allow takes a slot in the current window if one is free
func (l *FixedWindowLimiter) Allow() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.metrics.TotalRequests++
	ok, _ := l.tryLocked(l.now())
	return ok
}

// Wait blocks until a slot is free or ctx is done
func (l *FixedWindowLimiter) Wait(ctx context.Context) error {
	l.mutex.Lock()
	l.metrics.TotalRequests++
	waited := false
	l.mutex.Unlock()

	for {
		l.mutex.Lock()
		ok, wait := l.tryLocked(l.now())
		if !ok && !waited {
			waited = true
			l.metrics.WaitedRequests++
		}
		l.mutex.Unlock()

		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.mutex.Lock()
			l.metrics.CanceledWaits++
			l.mutex.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryLocked takes a slot or returns the time left in the window.
// Must be called with mutex held.
func (l *FixedWindowLimiter) tryLocked(now time.Time) (bool, time.Duration) {
	end := l.windowStart.Add(l.config.Period)
	if l.windowStart.IsZero() || !now.Before(end) {
		l.windowStart = now
		l.count = 0
		end = now.Add(l.config.Period)
	}

	if l.count < l.config.Rate {
		l.count++
		l.metrics.AllowedRequests++
		return true, 0
	}
	return false, end.Sub(now)
}

// Metrics returns current metrics
func (l *FixedWindowLimiter) Metrics() RateLimiterMetrics {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.metrics
}
