package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellsgz/netpulse/internal/config"
	"github.com/wellsgz/netpulse/internal/logging"
)

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	hub        *Hub
}

// NewServer creates an API server over engine. metrics, when non-nil, is mounted at /metrics.
func NewServer(cfg *config.Config, engine Engine, metrics http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ErrorHandler())
	router.Use(RequestLogger())
	router.Use(CORS())

	hub := NewHub(engine)
	handler := NewHandler(cfg, engine, hub)
	SetupRoutes(router, handler, hub, metrics)

	return &Server{
		config:  cfg,
		router:  router,
		handler: handler,
		hub:     hub,
		httpServer: &http.Server{
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the WebSocket hub and serves HTTP on address until Shutdown
func (s *Server) Start(address string) error {
	go s.hub.Run()

	s.httpServer.Addr = address
	logging.Info("API", "starting server", zap.String("address", address))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server with a timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	// Stop WebSocket hub first (closes all client connections)
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.Info("API", "shutting down server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logging.Info("API", "server stopped")
	return nil
}

// Router returns the underlying Gin router for testing or extension
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}
