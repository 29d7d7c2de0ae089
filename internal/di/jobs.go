package di

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/config"
	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/handler"
	"github.com/jrjohn/arcana-queue/internal/jobs/registry"
	"github.com/jrjohn/arcana-queue/internal/jobs/scheduler"
)

// JobsModule provides the queue registry, handlers and scheduler, creates
// the configured queues and binds their handlers on start.
var JobsModule = fx.Module("jobs",
	fx.Provide(
		provideJobMetrics,
		provideQueueRegistry,
		provideHandlerRegistry,
		provideScheduler,
	),
	fx.Invoke(
		createQueues,
		registerScheduledJobs,
		startJobWorkers,
	),
)

func provideJobMetrics(reg *prometheus.Registry) (*jobs.Metrics, error) {
	return jobs.NewMetrics(reg)
}

func provideQueueRegistry(cfg *config.WorkerConfig, metrics *jobs.Metrics, tracer trace.Tracer, logger *zap.Logger) *registry.Registry {
	return registry.New(logger,
		registry.WithMetrics(metrics),
		registry.WithTracer(tracer),
		registry.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
}

func provideHandlerRegistry(logger *zap.Logger) *handler.Registry {
	r := handler.NewRegistry(logger)
	handler.RegisterBuiltins(r)
	return r
}

func provideScheduler(reg *registry.Registry, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(reg, logger)
}

// createQueues creates every configured queue and checks that each names a
// registered handler
func createQueues(cfg *config.Config, reg *registry.Registry, handlers *handler.Registry) error {
	for _, spec := range cfg.Queues {
		if spec.Handler != "" {
			if _, err := handlers.Get(spec.Handler); err != nil {
				return fmt.Errorf("queue %q: %w", spec.Name, err)
			}
		}
		if _, err := reg.Create(spec.Name, spec.QueueConfig); err != nil {
			return fmt.Errorf("queue %q: %w", spec.Name, err)
		}
	}
	return nil
}

func registerScheduledJobs(cfg *config.Config, sched *scheduler.Scheduler, logger *zap.Logger) error {
	if !cfg.Scheduler.Enabled {
		logger.Info("Scheduler disabled", zap.Int("schedules", len(cfg.Schedules)))
		return nil
	}

	for _, s := range cfg.Schedules {
		if err := sched.RegisterJob(scheduler.ScheduledJob{
			Name:      s.Name,
			Schedule:  s.Spec,
			Queue:     s.Queue,
			Payload:   s.Payload,
			Priority:  s.Priority,
			Singleton: s.Singleton,
		}); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Name, err)
		}
	}
	return nil
}

// bindQueues attaches the configured handler to every queue that names one
func bindQueues(cfg *config.Config, reg *registry.Registry, handlers *handler.Registry, logger *zap.Logger) error {
	for _, spec := range cfg.Queues {
		if spec.Handler == "" {
			continue
		}
		h, err := handlers.Get(spec.Handler)
		if err != nil {
			return err
		}
		q, err := reg.Get(spec.Name)
		if err != nil {
			return err
		}

		concurrency, poll := cfg.ProcessSettings(spec)
		if _, err := q.Process(h, registry.ProcessConfig{Concurrency: concurrency, PollInterval: poll}); err != nil {
			return fmt.Errorf("queue %q: %w", spec.Name, err)
		}
		logger.Info("Queue bound",
			zap.String("queue", spec.Name),
			zap.String("handler", spec.Handler),
			zap.Int("concurrency", concurrency),
		)
	}
	return nil
}

// startJobWorkers binds the queue handlers and starts the scheduler
func startJobWorkers(lc fx.Lifecycle, cfg *config.Config, reg *registry.Registry, handlers *handler.Registry, sched *scheduler.Scheduler, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting queue workers")
			if err := bindQueues(cfg, reg, handlers, logger); err != nil {
				return fmt.Errorf("failed to bind queues: %w", err)
			}

			if cfg.Scheduler.Enabled {
				logger.Info("Starting job scheduler")
				if err := sched.Start(); err != nil {
					return fmt.Errorf("failed to start scheduler: %w", err)
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping job scheduler")
			if err := sched.Stop(ctx); err != nil {
				logger.Warn("Error stopping scheduler", zap.Error(err))
			}

			logger.Info("Draining queues")
			if err := reg.Close(ctx); err != nil {
				logger.Warn("Error draining queues", zap.Error(err))
			}
			return nil
		},
	})
}
