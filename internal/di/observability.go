package di

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/config"
	"github.com/jrjohn/arcana-queue/internal/jobs/registry"
	"github.com/jrjohn/arcana-queue/internal/observability"
)

// ObservabilityModule provides tracing, the Prometheus registry and the ops
// HTTP server
var ObservabilityModule = fx.Module("observability",
	fx.Provide(
		provideTracingProvider,
		provideTracer,
		providePrometheusRegistry,
		provideOpsServer,
	),
	fx.Invoke(startOpsServer),
)

func provideTracingProvider(lc fx.Lifecycle, cfg *config.TracingConfig, app *config.AppConfig, logger *zap.Logger) (*observability.TracingProvider, error) {
	tp, err := observability.NewTracingProvider(*cfg, *app, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func provideTracer(tp *observability.TracingProvider) trace.Tracer {
	return tp.Tracer()
}

func providePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideOpsServer(cfg *config.MetricsConfig, reg *registry.Registry, prom *prometheus.Registry, tracer trace.Tracer, logger *zap.Logger) *observability.OpsServer {
	return observability.NewOpsServer(*cfg, reg, prom, tracer, logger)
}

func startOpsServer(lc fx.Lifecycle, cfg *config.MetricsConfig, server *observability.OpsServer) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return server.Start()
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
