package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
)

// Built-in handler names
const (
	NameLog  = "log"
	NameEcho = "echo"
	NameFail = "fail"
)

// FailPayload makes the fail handler return Message as the error
type FailPayload struct {
	Message string `json:"message"`
}

// Log returns a handler that logs each job and succeeds
func Log(log *zap.Logger) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job jobs.Job) (any, error) {
		log.Info("Job received",
			zap.String("queue", job.Queue),
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Any("payload", job.Payload),
		)
		return nil, nil
	})
}

// Echo returns the payload as the result
func Echo() jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job jobs.Job) (any, error) {
		return job.Payload, nil
	})
}

// Fail always fails; useful for exercising retry and dead-letter routing
func Fail() jobs.Handler {
	return Typed(func(ctx context.Context, p FailPayload) (any, error) {
		msg := p.Message
		if msg == "" {
			msg = "job failed"
		}
		return nil, jobs.ErrHandler.WithMessage(msg)
	})
}

// RegisterBuiltins adds the log, echo and fail handlers
func RegisterBuiltins(r *Registry) {
	r.Add(NameLog, Log(r.logger))
	r.Add(NameEcho, Echo())
	r.add(NameFail, Fail(), "handler.FailPayload")
}
