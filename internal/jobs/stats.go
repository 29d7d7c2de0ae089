package jobs

import "sync/atomic"

// Counters are the monotonic per-queue totals. They reset only when the
// queue is deleted.
type Counters struct {
	Added     atomic.Int64
	Processed atomic.Int64
	Failed    atomic.Int64
	Retries   atomic.Int64
}

// Stats is a point-in-time view of a queue
type Stats struct {
	Name       string `json:"name"`
	Added      int64  `json:"added"`
	Processed  int64  `json:"processed"`
	Failed     int64  `json:"failed"`
	Retries    int64  `json:"retries"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	DLQSize    int    `json:"dlq_size"`
	IsPaused   bool   `json:"is_paused"`
}

// Fill copies the counter values into s
func (c *Counters) Fill(s *Stats) {
	s.Added = c.Added.Load()
	s.Processed = c.Processed.Load()
	s.Failed = c.Failed.Load()
	s.Retries = c.Retries.Load()
}

// HealthCheck returns the health status of the job system
type HealthCheck struct {
	Status     string `json:"status"`
	Queues     int    `json:"queues"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	DLQSize    int    `json:"dlq_size"`
}

// Health statuses
const (
	HealthStatusHealthy  = "healthy"
	HealthStatusDegraded = "degraded"
)

// DegradedPendingThreshold is the pending total above which the system
// reports itself as degraded
const DegradedPendingThreshold = 1000

// Health summarizes the stats of all queues
func Health(all map[string]Stats) HealthCheck {
	h := HealthCheck{Status: HealthStatusHealthy, Queues: len(all)}
	for _, s := range all {
		h.Pending += s.Pending
		h.Processing += s.Processing
		h.DLQSize += s.DLQSize
	}
	if h.Pending > DegradedPendingThreshold {
		h.Status = HealthStatusDegraded
	}
	return h
}
