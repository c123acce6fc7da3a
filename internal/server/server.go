// Package server owns the HTTP server lifecycle for the hubwire service.
// It builds the shared gin router with common middleware and exposes it to
// the endpoint composer; connection endpoints register against this router.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/pkg/config"
	"github.com/hubwire/hubwire/pkg/middleware"
)

// statusResponse is returned by the health and status endpoints.
type statusResponse struct {
	Status     string   `json:"status"`
	Service    string   `json:"service"`
	Transports []string `json:"transports"`
}

// Manager manages the HTTP server and the shared router
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	router *gin.Engine
	srv    *http.Server
}

// NewManager creates a server manager with the shared router built
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("server"),
	}
	m.router = m.buildRouter()
	m.addStatusEndpoints()
	return m
}

// Router returns the shared router. Connection endpoints must be composed
// against it before Start.
func (m *Manager) Router() *gin.Engine {
	return m.router
}

// Start runs the HTTP server in the background
func (m *Manager) Start() {
	addr := m.cfg.Server.Address()
	m.srv = &http.Server{
		Addr:        addr,
		Handler:     m.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: execution routes hold connections open for
		// their full lifetime.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		m.logger.Info("HTTP server listening", zap.String("address", addr))
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down the server
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}

// buildRouter creates the router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     m.cfg.CORS.AllowedOrigins,
		AllowMethods:     m.cfg.CORS.AllowedMethods,
		AllowHeaders:     m.cfg.CORS.AllowedHeaders,
		AllowCredentials: m.cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
	}))
	return router
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints() {
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse{
			Status:     "ok",
			Service:    "hubwire",
			Transports: m.cfg.Transports.Enabled,
		})
	}
	m.router.GET("/health", handler)
	m.router.GET("/status", handler)
}
