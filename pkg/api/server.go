// Package api exposes the control plane over HTTP: execution submission and
// lifecycle RPCs, queue and provider introspection, Prometheus metrics, and
// the WebSocket event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/orchestrator"
	"github.com/autoqa/autoqa/pkg/provider"
	"github.com/autoqa/autoqa/pkg/session"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	cfg       *config.ServerConfig
	orch      *orchestrator.Orchestrator
	providers *provider.Pool
	hub       *Hub
	echo      *echo.Echo
	httpSrv   *http.Server
	logger    *slog.Logger
}

// NewServer wires the routes and registers the hub as an event broadcaster.
// providers may be nil; the provider status endpoint then reports 503.
func NewServer(cfg *config.ServerConfig, orch *orchestrator.Orchestrator, providers *provider.Pool, sessions *session.Manager, publisher *events.Publisher) *Server {
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		providers: providers,
		hub:       NewHub(cfg, sessions),
		logger:    slog.With("component", "api"),
	}
	if publisher != nil {
		publisher.AddBroadcaster(s.hub)
	}

	e := echo.New()
	e.Use(requestID(), accessLog(s.logger), recoverPanics(s.logger), securityHeaders())

	e.POST("/api/v1/executions", s.submitExecutionHandler)
	e.GET("/api/v1/executions/:id", s.getExecutionHandler)
	e.DELETE("/api/v1/executions/:id", s.cancelExecutionHandler)
	e.GET("/api/v1/queue/stats", s.queueStatsHandler)
	e.GET("/api/v1/providers/status", s.providerStatusHandler)
	e.GET("/api/v1/health", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)
	e.GET("/ws", s.wsHandler)

	s.echo = e
	return s
}

// Hub returns the WebSocket hub, for introspection.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on addr and serves until Shutdown. Blocks; returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown disconnects event stream clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// metricsHandler serves the autoqa Prometheus registry.
func (s *Server) metricsHandler(c *echo.Context) error {
	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).
		ServeHTTP(c.Response(), c.Request())
	return nil
}
