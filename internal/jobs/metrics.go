package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "arcana"

// Metrics collects queue metrics for Prometheus, labelled by queue name.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
	dead      *prometheus.CounterVec
	rejected  *prometheus.CounterVec

	pending *prometheus.GaugeVec
	running *prometheus.GaugeVec

	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	queueLabel := []string{"queue"}

	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "enqueued_total",
			Help: "Total jobs enqueued",
		}, queueLabel),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "completed_total",
			Help: "Total jobs completed",
		}, queueLabel),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "failed_attempts_total",
			Help: "Total failed job attempts",
		}, queueLabel),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "retried_total",
			Help: "Total jobs rescheduled for retry",
		}, queueLabel),
		dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "dead_total",
			Help: "Total jobs moved to the dead-letter list",
		}, queueLabel),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "rejected_total",
			Help: "Total enqueues rejected because the queue was full",
		}, queueLabel),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "pending",
			Help: "Current pending jobs",
		}, queueLabel),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "running",
			Help: "Current running jobs",
		}, queueLabel),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Job attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "outcome"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.enqueued, m.completed, m.failed, m.retried, m.dead, m.rejected,
		m.pending, m.running, m.duration,
	}
}

// RecordEnqueued records a job being enqueued
func (m *Metrics) RecordEnqueued(queue string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(queue).Inc()
}

// RecordRejected records an enqueue refused with ErrQueueFull
func (m *Metrics) RecordRejected(queue string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(queue).Inc()
}

// RecordStarted records a job starting execution
func (m *Metrics) RecordStarted(queue string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(queue).Inc()
}

// RecordCompleted records a job completing successfully
func (m *Metrics) RecordCompleted(queue string, d time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(queue).Inc()
	m.running.WithLabelValues(queue).Dec()
	m.duration.WithLabelValues(queue, "completed").Observe(d.Seconds())
}

// RecordFailed records a failed attempt
func (m *Metrics) RecordFailed(queue string, d time.Duration, willRetry bool) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(queue).Inc()
	m.running.WithLabelValues(queue).Dec()
	m.duration.WithLabelValues(queue, "failed").Observe(d.Seconds())
	if willRetry {
		m.retried.WithLabelValues(queue).Inc()
	} else {
		m.dead.WithLabelValues(queue).Inc()
	}
}

// RecordReleased records a claimed job handed back without running
func (m *Metrics) RecordReleased(queue string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(queue).Dec()
}

// SetPending publishes the current pending count
func (m *Metrics) SetPending(queue string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(queue).Set(float64(n))
}

// Forget drops every series for a deleted queue
func (m *Metrics) Forget(queue string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"queue": queue}
	for _, c := range []interface {
		DeletePartialMatch(prometheus.Labels) int
	}{m.enqueued, m.completed, m.failed, m.retried, m.dead, m.rejected, m.pending, m.running, m.duration} {
		c.DeletePartialMatch(labels)
	}
}
