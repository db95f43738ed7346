// Package http provides HTTP server implementation and request handlers.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/allisson/capsec/internal/metrics"
	securityHTTP "github.com/allisson/capsec/internal/security/http"
)

// Server represents the API HTTP server.
type Server struct {
	db     *sql.DB
	host   string
	port   int
	logger *slog.Logger
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server. The router is assembled separately with
// SetupRouter so tests can wire a minimal route tree.
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		host:   host,
		port:   port,
		logger: logger,
	}
}

// RouterConfig carries the handlers and policy knobs wired into the route tree.
type RouterConfig struct {
	CapabilityHandler  *securityHTTP.CapabilityHandler
	EnforcementHandler *securityHTTP.EnforcementHandler

	RateLimitEnabled        bool
	RateLimitRequestsPerSec float64
	RateLimitBurst          int

	CORSEnabled      bool
	CORSAllowOrigins string

	MetricsEnabled   bool
	MeterProvider    otelmetric.MeterProvider
	MetricsNamespace string
}

// SetupRouter assembles the Gin router with middleware and the v1 API routes.
func (s *Server) SetupRouter(cfg RouterConfig) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))
	router.Use(securityHTTP.RequestContextMiddleware())

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if cfg.MetricsEnabled && cfg.MeterProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(cfg.MeterProvider, cfg.MetricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")
	if cfg.RateLimitEnabled {
		v1.Use(securityHTTP.RateLimitMiddleware(
			cfg.RateLimitRequestsPerSec,
			cfg.RateLimitBurst,
			s.logger,
		))
	}

	if cfg.CapabilityHandler != nil {
		v1.POST("/capabilities", cfg.CapabilityHandler.CreateHandler)
		v1.POST("/capabilities/temporary", cfg.CapabilityHandler.CreateTemporaryHandler)
		v1.POST("/capabilities/validate", cfg.CapabilityHandler.ValidateHandler)
		v1.POST("/capabilities/delegate", cfg.CapabilityHandler.DelegateHandler)
		v1.POST("/capabilities/revoke", cfg.CapabilityHandler.RevokeHandler)
		v1.POST("/principals/:principal_id/revoke", cfg.CapabilityHandler.RevokeAllHandler)
		v1.GET("/principals/:principal_id/capabilities", cfg.CapabilityHandler.ListHandler)
		v1.POST("/check", cfg.CapabilityHandler.CheckHandler)
	}

	if cfg.EnforcementHandler != nil {
		v1.POST("/enforce/tool-call", cfg.EnforcementHandler.ToolCallHandler)
		v1.POST("/enforce/resource", cfg.EnforcementHandler.ResourceAccessHandler)
	}

	s.router = router
}

// healthHandler reports process liveness.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports whether the server can do useful work. The database
// component is degraded when no pool is configured or the ping fails.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{}
	ready := true

	if s.db == nil {
		components["database"] = "error"
		ready = false
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			components["database"] = "error"
			ready = false
		} else {
			components["database"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": components,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": components,
	})
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.SetupRouter(RouterConfig{})
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
