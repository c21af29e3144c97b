package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"watchtower-alerts-go/internal/api/handlers"
	"watchtower-alerts-go/internal/api/middleware"
	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/services"
)

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler    *handlers.HealthHandler
	detectionHandler *handlers.DetectionHandler
	alertHandler     *handlers.AlertHandler
	ruleHandler      *handlers.RuleHandler
	systemHandler    *handlers.SystemHandler
}

func NewServer(cfg *config.Config, container *services.ServiceContainer) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		config:           cfg,
		router:           router,
		healthHandler:    handlers.NewHealthHandler(cfg.ServiceID, cfg.Version),
		detectionHandler: handlers.NewDetectionHandler(container.Ingest),
		alertHandler:     handlers.NewAlertHandler(container.AlertStore, container.Scheduler),
		ruleHandler:      handlers.NewRuleHandler(container.Rules),
		systemHandler:    handlers.NewSystemHandler(cfg.ServiceID, container.AlertStore, container.Ingest, container.Messaging),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Actor())
	s.router.Use(middleware.RequestContext())
}

func (s *Server) Start() error {
	fmt.Printf("🚀 Starting Watchtower Alerts API on port %d\n", s.config.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	fmt.Println("🛑 Stopping Watchtower Alerts API...")
	return s.server.Shutdown(ctx)
}
