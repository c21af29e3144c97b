package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	ServiceID string
	Version   string
}

func NewHealthHandler(serviceID, version string) *HealthHandler {
	return &HealthHandler{ServiceID: serviceID, Version: version}
}

type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	ServiceID string `json:"service_id" example:"watchtower-1"`
}

type ServiceInfoResponse struct {
	ServiceID    string   `json:"service_id" example:"watchtower-1"`
	Status       string   `json:"status" example:"running"`
	Version      string   `json:"version" example:"1.0.0"`
	Capabilities []string `json:"capabilities"`
}

// @Summary Health check
// @Description Check if the alert service is healthy and responsive
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		ServiceID: h.ServiceID,
	})
}

// @Summary Service information
// @Description Get basic service information and capabilities
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} ServiceInfoResponse
// @Router / [get]
func (h *HealthHandler) ServiceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, ServiceInfoResponse{
		ServiceID: h.ServiceID,
		Status:    "running",
		Version:   h.Version,
		Capabilities: []string{
			"detection_ingestion",
			"alert_lifecycle",
			"escalation_scheduling",
			"notification_dispatch",
		},
	})
}
