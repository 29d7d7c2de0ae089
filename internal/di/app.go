package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/config"
)

// AppModule aggregates all application modules. The graph needs a
// *viper.Viper supplied by the caller.
var AppModule = fx.Options(
	ConfigModule,
	LoggerModule,
	ObservabilityModule,
	JobsModule,
)

// PrintBanner prints the application startup banner
func PrintBanner(cfg *config.Config, logger *zap.Logger) {
	logger.Info("===========================================")
	logger.Info("   Arcana Queue - In-Process Job Queue     ")
	logger.Info("===========================================")
	logger.Info("Application Info",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)
	logger.Info("Queue Config",
		zap.Int("queues", len(cfg.Queues)),
		zap.Int("schedules", len(cfg.Schedules)),
		zap.Int("default_concurrency", cfg.Worker.Concurrency),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("tracing", cfg.Tracing.Enabled),
	)
	logger.Info("===========================================")
}
