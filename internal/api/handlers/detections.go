package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"watchtower-alerts-go/internal/logging"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/ingest"
)

type DetectionHandler struct {
	ingest *ingest.Service
}

func NewDetectionHandler(ingestSvc *ingest.Service) *DetectionHandler {
	return &DetectionHandler{ingest: ingestSvc}
}

// IngestResponse is returned for accepted detections
type IngestResponse struct {
	AlertID string `json:"alert_id,omitempty"`
	Status  string `json:"status" example:"accepted"`
}

// Ingest accepts one detection event
// @Summary Ingest a detection event
// @Description Normalize a detection and fold it into the alert pipeline
// @Tags detections
// @Accept json
// @Produce json
// @Param request body models.RawDetection true "Detection event"
// @Success 202 {object} IngestResponse
// @Failure 400 {object} map[string]string
// @Router /detections [post]
func (h *DetectionHandler) Ingest(c *gin.Context) {
	var raw models.RawDetection
	if err := c.ShouldBindJSON(&raw); err != nil {
		logging.Warn(c).Err(err).Msg("Malformed detection payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_detection", "detail": err.Error()})
		return
	}

	alert, err := h.ingest.Process(raw)
	if err != nil {
		if errors.Is(err, models.ErrInvalidDetection) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_detection", "detail": err.Error()})
			return
		}
		logging.Error(c).Err(err).Msg("Detection processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if alert == nil {
		c.JSON(http.StatusAccepted, IngestResponse{Status: "ignored"})
		return
	}

	c.JSON(http.StatusAccepted, IngestResponse{
		AlertID: alert.ID,
		Status:  "accepted",
	})
}

// DisableSource stops intake from a source
// @Summary Disable a detection source
// @Description Stop accepting detections from the given source id
// @Tags sources
// @Param id path string true "Source ID"
// @Success 200 {object} map[string]string
// @Router /sources/{id}/disable [post]
func (h *DetectionHandler) DisableSource(c *gin.Context) {
	sourceID := c.Param("id")
	h.ingest.DisableSource(sourceID)
	c.JSON(http.StatusOK, gin.H{"source_id": sourceID, "status": "disabled"})
}

// EnableSource resumes intake from a source
// @Summary Enable a detection source
// @Description Resume accepting detections from the given source id
// @Tags sources
// @Param id path string true "Source ID"
// @Success 200 {object} map[string]string
// @Router /sources/{id}/enable [post]
func (h *DetectionHandler) EnableSource(c *gin.Context) {
	sourceID := c.Param("id")
	h.ingest.EnableSource(sourceID)
	c.JSON(http.StatusOK, gin.H{"source_id": sourceID, "status": "enabled"})
}
