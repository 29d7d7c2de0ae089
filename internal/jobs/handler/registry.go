package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

// TypedFunc is a handler for a decoded payload of type T
type TypedFunc[T any] func(ctx context.Context, payload T) (any, error)

// Typed adapts fn to jobs.Handler. A payload already of type T is passed
// through; anything else ([]byte, json.RawMessage, string, maps from config
// files) is decoded through JSON. Decode failures are handler errors and
// count as failed attempts.
func Typed[T any](fn TypedFunc[T]) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job jobs.Job) (any, error) {
		payload, err := Decode[T](job.Payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, payload)
	})
}

// Decode converts a job payload to T
func Decode[T any](data any) (T, error) {
	var payload T
	switch v := data.(type) {
	case T:
		return v, nil
	case nil:
		return payload, nil
	case []byte:
		if err := json.Unmarshal(v, &payload); err != nil {
			return payload, jobs.ErrHandler.WithError(fmt.Errorf("failed to unmarshal payload: %w", err))
		}
		return payload, nil
	case json.RawMessage:
		return Decode[T]([]byte(v))
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return payload, jobs.ErrHandler.WithError(fmt.Errorf("failed to marshal payload: %w", err))
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, jobs.ErrHandler.WithError(fmt.Errorf("failed to unmarshal payload: %w", err))
	}
	return payload, nil
}

// Registry maps handler names to handlers so that queues declared in
// configuration can name the handler they bind.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	byName map[string]jobs.Handler
	types  map[string]string // name -> payload type, for listing
}

// NewRegistry creates an empty handler registry
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		logger: logger.OrNop(log),
		byName: make(map[string]jobs.Handler),
		types:  make(map[string]string),
	}
}

// Add registers an untyped handler under name, replacing any previous one
func (r *Registry) Add(name string, h jobs.Handler) {
	r.add(name, h, "any")
}

func (r *Registry) add(name string, h jobs.Handler, payloadType string) {
	r.mu.Lock()
	r.byName[name] = h
	r.types[name] = payloadType
	r.mu.Unlock()

	r.logger.Info("Registered job handler",
		zap.String("handler", name),
		zap.String("payload_type", payloadType),
	)
}

// Register registers a typed handler for name
func Register[T any](r *Registry, name string, fn TypedFunc[T]) {
	var zero T
	r.add(name, Typed(fn), fmt.Sprintf("%T", zero))
}

// Get returns the named handler
func (r *Registry) Get(name string) (jobs.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byName[name]
	if !ok {
		return nil, jobs.ErrNotFound.WithMessagef("handler %q is not registered", name)
	}
	return h, nil
}

// Names returns the registered handler names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// ListHandlers returns handler names with their payload types
func (r *Registry) ListHandlers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.types))
	for k, v := range r.types {
		result[k] = v
	}
	return result
}
