package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (s *Server) setupSwagger() {
	s.router.GET("/api/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"title":       "Watchtower Alerts API",
			"version":     s.config.Version,
			"description": "Detection ingestion, alert lifecycle, escalation scheduling and notification dispatch",
			"swagger_ui":  "/docs/index.html",
			"endpoints": gin.H{
				"health":      "/health",
				"detections":  "/detections",
				"alerts":      "/alerts",
				"escalations": "/escalations",
				"rules":       "/rules",
				"sources":     "/sources",
				"system":      "/system",
			},
			"service_id": s.config.ServiceID,
			"port":       s.config.Port,
		})
	})

	s.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	s.router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/docs/index.html")
	})
}
