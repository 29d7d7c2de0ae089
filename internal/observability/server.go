package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-queue/internal/config"
	"github.com/jrjohn/arcana-queue/internal/jobs"
	"github.com/jrjohn/arcana-queue/internal/jobs/registry"
	"github.com/jrjohn/arcana-queue/pkg/logger"
)

// readyTimeout bounds the worker ping done by /ready
const readyTimeout = 2 * time.Second

// OpsServer serves read-only health, stats and Prometheus endpoints.
// It never accepts jobs.
type OpsServer struct {
	cfg      config.MetricsConfig
	registry *registry.Registry
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
}

// NewOpsServer builds the router. gatherer is scraped at cfg.Path.
func NewOpsServer(cfg config.MetricsConfig, reg *registry.Registry, gatherer prometheus.Gatherer, tracer trace.Tracer, log *zap.Logger) *OpsServer {
	log = logger.OrNop(log)
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Recovery(log))
	router.Use(Logger(log))
	router.Use(TracingMiddleware(tracer))

	s := &OpsServer{
		cfg:      cfg,
		registry: reg,
		logger:   log,
		router:   router,
	}

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/queues", s.queues)
	router.GET("/queues/:name", s.queue)
	router.GET(cfg.Path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler
func (s *OpsServer) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background
func (s *OpsServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting ops server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Ops server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server
func (s *OpsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping ops server")
	return s.server.Shutdown(ctx)
}

func (s *OpsServer) health(c *gin.Context) {
	h := s.registry.Health()
	status := http.StatusOK
	if h.Status != jobs.HealthStatusHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *OpsServer) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	failing := gin.H{}
	for _, name := range s.registry.List() {
		q, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		w := q.Worker()
		// a saturated pool is alive; a ping would only queue behind its backlog
		if w == nil || w.Stats().Active >= w.Stats().Size {
			continue
		}
		if err := w.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "queues": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *OpsServer) queues(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Stats())
}

func (s *OpsServer) queue(c *gin.Context) {
	q, err := s.registry.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, q.Stats())
}
