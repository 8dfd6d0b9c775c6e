// Package http provides the HTTP adapter for the approval engine.
// It translates HTTP requests to engine calls and engine error kinds to status codes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/change-approval/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestObserver records request metrics
type RequestObserver interface {
	ObserveHTTP(method, endpoint string, status int, elapsed time.Duration)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Dependencies are the components served over HTTP. Health, Metrics and
// Observer are optional.
type Dependencies struct {
	Engine    workflow.Engine
	Directory DirectoryWriter
	Audit     AuditReader
	Status    StatusReader
	Failures  FailureLister
	Health    HealthFunc
	Metrics   http.Handler
	Observer  RequestObserver
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server over the given dependencies
func NewServer(config ServerConfig, deps Dependencies, logger Logger) (*Server, error) {
	if deps.Engine == nil || deps.Directory == nil || deps.Audit == nil || deps.Status == nil || deps.Failures == nil {
		return nil, fmt.Errorf("engine, directory, audit, status and failures are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware logs each request and feeds the request metrics
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// Route templates keep label cardinality bounded
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		if s.deps.Observer != nil {
			s.deps.Observer.ObserveHTTP(method, endpoint, status, latency)
		}

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := &Handlers{
		engine:    s.deps.Engine,
		directory: s.deps.Directory,
		audit:     s.deps.Audit,
		status:    s.deps.Status,
		failures:  s.deps.Failures,
		health:    s.deps.Health,
		logger:    s.logger,
	}

	s.router.GET("/health", handlers.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1")
	{
		// Workflows
		api.POST("/workflows", handlers.InitiateWorkflow)
		api.GET("/workflows/:id", handlers.GetWorkflow)
		api.POST("/workflows/:id/override", handlers.Override)

		// Change requests
		api.GET("/changes/:change_id/workflow", handlers.GetChangeWorkflow)
		api.GET("/changes/:change_id/status", handlers.GetChangeStatus)
		api.GET("/changes/:change_id/audit", handlers.GetAuditTrail)

		// Steps
		api.POST("/steps/:id/decision", handlers.Decide)
		api.POST("/steps/:id/delegate", handlers.Delegate)
		api.POST("/steps/:id/escalate", handlers.Escalate)
		api.PUT("/steps/:id/deadline", handlers.UpdateDeadline)
		api.POST("/steps/:id/requirements/:requirement_id/fulfill", handlers.FulfillRequirement)

		// Users and delegation
		api.GET("/users/:user_id", handlers.GetUser)
		api.PUT("/users/:user_id", handlers.UpsertUser)
		api.GET("/users/:user_id/pending", handlers.PendingFor)
		api.POST("/role-delegations", handlers.DelegateRole)
		api.PUT("/backups", handlers.SetBackupApprover)
		api.DELETE("/backups/:primary/:role", handlers.RemoveBackupApprover)

		// Operations
		api.POST("/sweeps/:sweep", handlers.RunSweep)
		api.GET("/failures", handlers.ListFailures)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
