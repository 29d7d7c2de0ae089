package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/config"
	"github.com/jrjohn/arcana-queue/internal/di"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Create the configured queues and process jobs until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("metrics-addr", ":9100", "ops server address (health, stats, Prometheus)")
	cmd.Flags().Bool("tracing", false, "export job spans to stdout")
	cmd.Flags().Int("concurrency", 1, "default concurrency for queues that do not set one")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "how long to wait for running jobs on shutdown")

	bindFlag(v, "metrics.addr", cmd.Flags(), "metrics-addr")
	bindFlag(v, "tracing.enabled", cmd.Flags(), "tracing")
	bindFlag(v, "worker.concurrency", cmd.Flags(), "concurrency")
	bindFlag(v, "worker.shutdown_timeout", cmd.Flags(), "shutdown-timeout")
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		cfg    *config.Config
		logger *zap.Logger
	)
	app := fx.New(
		fx.Supply(v),
		di.AppModule,
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&cfg, &logger),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	di.PrintBanner(cfg, logger)

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("Shutdown signal received, draining queues...")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop cleanly: %w", err)
	}

	logger.Info("Stopped cleanly")
	return nil
}
