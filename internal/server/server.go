// Package server exposes the gateway's operational HTTP surface: liveness,
// provider inventory and health, and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finkor/brokergate/internal/metrics"
	"github.com/finkor/brokergate/internal/provider"
)

// Options carries the server wiring.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string
}

// Server is the operational HTTP endpoint set.
type Server struct {
	opts     Options
	logger   *zap.Logger
	registry *provider.Registry
	http     *http.Server
}

func New(opts Options, reg *provider.Registry, m *metrics.GatewayMetrics, logger *zap.Logger) *Server {
	if opts.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{
		opts:     opts,
		logger:   logger,
		registry: reg,
	}

	router.GET("/healthz", s.handleLiveness)
	router.GET("/providers", s.handleProviders)
	router.GET("/providers/:id/health", s.handleProviderHealth)
	if m != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"registered": s.registry.List(),
		"active":     s.registry.Active(),
	})
}

func (s *Server) handleProviderHealth(c *gin.Context) {
	id := c.Param("id")
	p, err := s.registry.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider", "provider": id})
		return
	}
	health := p.Health(c.Request.Context())

	status := http.StatusOK
	if health.APIStatus == provider.APIStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"provider": id, "health": health})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.opts.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
