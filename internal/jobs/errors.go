package jobs

import (
	apperrors "github.com/jrjohn/arcana-queue/pkg/errors"
)

// Queue subsystem errors. Match them with errors.Is; derived copies carrying
// a more specific message or a wrapped cause compare equal by code.
var (
	// ErrQueueFull is returned when an enqueue would exceed the queue bound.
	// The bound counts pending and processing jobs together, so a queue can
	// be full while Size reports fewer than MaxSize. The queue is left
	// untouched.
	ErrQueueFull = apperrors.New(apperrors.CodeQueueFull, "queue is full")

	// ErrNotFound is returned for an unknown queue or job id
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "not found")

	// ErrDuplicateQueue is returned when creating a queue whose name is taken
	ErrDuplicateQueue = apperrors.New(apperrors.CodeDuplicateQueue, "queue already exists")

	// ErrTimeout marks a job that exceeded its time budget. The handler may
	// still be running.
	ErrTimeout = apperrors.New(apperrors.CodeTimeout, "job timed out")

	// ErrHandler wraps an error returned (or panicked) by a job handler
	ErrHandler = apperrors.New(apperrors.CodeHandlerError, "job handler failed")

	// ErrPoolTerminated is returned for work submitted to, or queued in, a
	// worker pool that has shut down
	ErrPoolTerminated = apperrors.New(apperrors.CodePoolTerminated, "worker pool terminated")

	// ErrQueueTerminated is returned for operations against a deleted queue
	ErrQueueTerminated = apperrors.New(apperrors.CodeQueueTerminated, "queue terminated")

	// ErrInvalidConfig is returned for rejected queue or worker configuration
	ErrInvalidConfig = apperrors.New(apperrors.CodeValidationError, "invalid configuration")
)

// HandlerError wraps err as an ErrHandler unless it already carries a
// subsystem code.
func HandlerError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.GetCode(err) != apperrors.CodeInternalError {
		return err
	}
	return ErrHandler.WithError(err)
}
