package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/api/middleware"
	"example.com/backstage/services/taskstatus/api/routes"
	"example.com/backstage/services/taskstatus/config"
	"example.com/backstage/services/taskstatus/internal/api/handlers"
	"example.com/backstage/services/taskstatus/internal/metrics"
	"example.com/backstage/services/taskstatus/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config        config.ServerConfig
	router        *gin.Engine
	httpServer    *http.Server
	statusHandler *handlers.StatusHandler
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, statusHandler *handlers.StatusHandler, metricsCollector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:        cfg,
		statusHandler: statusHandler,
		metrics:       metricsCollector,
		tracer:        tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Mode != "" {
		gin.SetMode(s.config.Mode)
	}

	router := gin.New()
	router.Use(middleware.Logger(log.Logger))
	router.Use(gin.Recovery())
	router.Use(middleware.NewRelicMiddleware(s.tracer.Application()))

	routes.SetupRoutes(router, s.statusHandler, handlers.NewMetricsHandler(s.metrics, s.tracer))

	return router
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
