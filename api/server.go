// Package api provides the HTTP service of pastebridge: the upload endpoint,
// report collectors and editing sessions running the paste pipeline
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/memtensor/pastebridge/pkg/config"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/storage"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Server represents the API server instance
type Server struct {
	config    *config.AppConfig
	store     *storage.LocalStore
	sessions  *SessionManager
	logger    interfaces.Logger
	metrics   interfaces.Metrics
	router    *gin.Engine
	server    *http.Server
	startTime time.Time
}

// NewServer creates a new API server instance
func NewServer(cfg *config.AppConfig, store *storage.LocalStore, sessions *SessionManager, logger interfaces.Logger, metrics interfaces.Metrics) *Server {
	// Set Gin mode based on log level
	if cfg.LogLevel == "error" || cfg.LogLevel == "warn" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	s := &Server{
		config:    cfg,
		store:     store,
		sessions:  sessions,
		logger:    logger,
		metrics:   metrics,
		router:    router,
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())

	// Request ID first so the access log can carry it
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())
	s.router.Use(s.bodyLimitMiddleware(s.config.Server.MaxBodyBytes))

	if s.config.Server.CORSEnabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.config.Server.CORSOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{"*"}
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
		corsConfig.ExposeHeaders = []string{"X-Request-ID"}
		s.router.Use(cors.New(corsConfig))
	}
}

// Start starts the API server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.getPort())

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", map[string]interface{}{
		"addr": addr,
		"mode": gin.Mode(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Failed to start server", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown
	s.logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.sessions.Close()
	return err
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", s.getMetrics)

	// Uploaded images
	s.router.Static(s.config.Storage.PublicPrefix, s.store.Dir())

	api := s.router.Group("/api")
	{
		api.POST("/upload", s.upload)
		api.POST("/log/clipboard", s.logClipboard)
		api.POST("/log/final", s.logFinal)
	}

	sessions := api.Group("/sessions")
	{
		sessions.POST("", s.createSession)
		sessions.GET("/:id/document", s.getDocument)
		sessions.DELETE("/:id", s.deleteSession)
		sessions.POST("/:id/paste", s.paste)
		sessions.POST("/:id/drop", s.drop)
		sessions.POST("/:id/postpass", s.postPass)
	}
}

// getPort returns the port from environment or config
func (s *Server) getPort() int {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			return port
		}
	}
	return s.config.Server.Port
}
