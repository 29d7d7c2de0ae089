package jobs

import "context"

// Handler executes one attempt of a job.
//
// ctx carries the job timeout, if any. Execute may keep running after the
// deadline; the attempt is recorded as failed with ErrTimeout regardless.
type Handler interface {
	Execute(ctx context.Context, job Job) (any, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, job Job) (any, error)

// Execute implements Handler
func (f HandlerFunc) Execute(ctx context.Context, job Job) (any, error) {
	return f(ctx, job)
}
