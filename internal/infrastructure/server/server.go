// Package server wires the realtime service together: registries, the
// assistant client, the WebSocket supervisor, and the REST surface, all
// behind one gin router.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/threadhub/realtime/internal/api/http"
	"github.com/threadhub/realtime/internal/api/middleware"
	"github.com/threadhub/realtime/internal/api/ws"
	"github.com/threadhub/realtime/internal/bot"
	"github.com/threadhub/realtime/internal/domain/history"
	"github.com/threadhub/realtime/internal/domain/presence"
	"github.com/threadhub/realtime/internal/infrastructure/config"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/monitoring"
)

// Server is the composed realtime service.
type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	logger  *logging.Logger
	metrics *monitoring.Metrics

	groups  *presence.GroupRegistry
	direct  *presence.DirectRegistry
	history *history.Store

	httpSrv *http.Server
}

// NewServer builds the full dependency graph from configuration.
func NewServer(cfg *config.Config, logger *logging.Logger) *Server {
	metrics := monitoring.NewMetrics()

	groups := presence.NewGroupRegistry(logger).WithMetrics(metrics)
	direct := presence.NewDirectRegistry(logger).WithMetrics(metrics)
	hist := history.NewStore(cfg.History.MaxTurns)
	completer := bot.NewClient(cfg.Bot, hist, logger).WithMetrics(metrics)

	wsHandler := ws.NewHandler(groups, direct, hist, completer, cfg.Liveness, logger).
		WithMetrics(metrics)
	handlers := apihttp.NewHandlers(groups, direct, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}
	router.Use(monitoring.Middleware(metrics))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/presence", handlers.Presence)
	router.POST("/broadcast", handlers.Broadcast)
	router.POST("/chats/send", handlers.SendChat)
	router.GET("/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Server{
		cfg:     cfg,
		router:  router,
		logger:  logger.Component("server"),
		metrics: metrics,
		groups:  groups,
		direct:  direct,
		history: hist,
	}
}

// Router exposes the composed router. For tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	// No ReadTimeout: /stream connections are long-lived and manage their
	// own liveness via ping probes.
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server. Live WebSocket connections are cut by
// the listener closing; clients recover through their reconnect loops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
