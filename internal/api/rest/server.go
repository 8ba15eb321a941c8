package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFanCore/internal/config"
	"github.com/KevinKickass/OpenFanCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	lm       interfaces.LifecycleManager
	logger   *zap.Logger
	server   *http.Server
	wsHub    *websocket.Hub
	gatherer prometheus.Gatherer
	listener net.Listener
}

func NewServer(cfg config.APIConfig, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		lm:       lm,
		logger:   logger,
		wsHub:    wsHub,
		gatherer: gatherer,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. Bind
// errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.getSystemStatus)
		v1.GET("/fans", s.listFans)
		v1.GET("/sensors", s.listSensors)

		v1.GET("/profile", s.getProfile)
		v1.PUT("/profile", s.putProfile)
		v1.POST("/pressure", s.setPressure)

		control := v1.Group("/control")
		{
			control.POST("/release", s.releaseControl)
			control.DELETE("/error", s.dismissError)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
