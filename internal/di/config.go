package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-queue/internal/config"
)

// ConfigModule provides configuration dependencies
var ConfigModule = fx.Module("config",
	fx.Provide(
		config.Load,
		provideAppConfig,
		provideWorkerConfig,
		provideMetricsConfig,
		provideTracingConfig,
	),
)

func provideAppConfig(cfg *config.Config) *config.AppConfig {
	return &cfg.App
}

func provideWorkerConfig(cfg *config.Config) *config.WorkerConfig {
	return &cfg.Worker
}

func provideMetricsConfig(cfg *config.Config) *config.MetricsConfig {
	return &cfg.Metrics
}

func provideTracingConfig(cfg *config.Config) *config.TracingConfig {
	return &cfg.Tracing
}
