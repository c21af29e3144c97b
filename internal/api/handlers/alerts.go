package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"watchtower-alerts-go/internal/logging"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/alertstore"
	"watchtower-alerts-go/internal/services/scheduler"
)

type AlertHandler struct {
	store     *alertstore.Service
	scheduler *scheduler.Service
}

func NewAlertHandler(store *alertstore.Service, schedulerSvc *scheduler.Service) *AlertHandler {
	return &AlertHandler{store: store, scheduler: schedulerSvc}
}

// CommandRequest carries the optional audit note on operator commands
type CommandRequest struct {
	Note string `json:"note,omitempty"`
}

// List returns alerts matching the query filters
// @Summary List alerts
// @Description List alerts filtered by status, severity, category, source type or dedup key
// @Tags alerts
// @Produce json
// @Param status query string false "Alert status"
// @Param severity query string false "Severity"
// @Param category query string false "Category"
// @Param source_type query string false "Source type"
// @Param dedup_key query string false "Dedup key"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{}
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := alertstore.Filter{
		Status:     models.AlertStatus(c.Query("status")),
		Severity:   models.Severity(c.Query("severity")),
		Category:   c.Query("category"),
		SourceType: models.SourceType(c.Query("source_type")),
		DedupKey:   c.Query("dedup_key"),
		Limit:      limit,
		Offset:     offset,
	}

	alerts, total := h.store.List(filter)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns one alert by id
// @Summary Get alert details
// @Description Get one alert with its full audit trail
// @Tags alerts
// @Param id path string true "Alert ID"
// @Success 200 {object} models.Alert
// @Failure 404 {object} map[string]string
// @Router /alerts/{id} [get]
func (h *AlertHandler) Get(c *gin.Context) {
	alert, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// Acknowledge marks an alert as being worked on
// @Summary Acknowledge an alert
// @Description Idempotent; stale transitions return current state unchanged
// @Tags alerts
// @Param id path string true "Alert ID"
// @Success 200 {object} models.Alert
// @Failure 404 {object} map[string]string
// @Router /alerts/{id}/acknowledge [post]
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	h.command(c, func(id, actor, note string) (*models.Alert, error) {
		return h.store.Acknowledge(id, actor)
	})
}

// Resolve closes an alert
// @Summary Resolve an alert
// @Description Idempotent; stale transitions return current state unchanged
// @Tags alerts
// @Param id path string true "Alert ID"
// @Param request body CommandRequest false "Audit note"
// @Success 200 {object} models.Alert
// @Failure 404 {object} map[string]string
// @Router /alerts/{id}/resolve [post]
func (h *AlertHandler) Resolve(c *gin.Context) {
	h.command(c, h.store.Resolve)
}

// Dismiss closes an acknowledged alert without resolution
// @Summary Dismiss an alert
// @Description Idempotent; stale transitions return current state unchanged
// @Tags alerts
// @Param id path string true "Alert ID"
// @Param request body CommandRequest false "Audit note"
// @Success 200 {object} models.Alert
// @Failure 404 {object} map[string]string
// @Router /alerts/{id}/dismiss [post]
func (h *AlertHandler) Dismiss(c *gin.Context) {
	h.command(c, h.store.Dismiss)
}

// MarkFalsePositive closes a new alert as a detection error
// @Summary Mark an alert as false positive
// @Description Idempotent; stale transitions return current state unchanged
// @Tags alerts
// @Param id path string true "Alert ID"
// @Param request body CommandRequest false "Audit note"
// @Success 200 {object} models.Alert
// @Failure 404 {object} map[string]string
// @Router /alerts/{id}/false-positive [post]
func (h *AlertHandler) MarkFalsePositive(c *gin.Context) {
	h.command(c, h.store.MarkFalsePositive)
}

func (h *AlertHandler) command(c *gin.Context, apply func(id, actor, note string) (*models.Alert, error)) {
	id := c.Param("id")
	actor := c.GetString("actor")
	if actor == "" {
		actor = "operator"
	}

	var req CommandRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	alert, err := apply(id, actor, req.Note)
	if err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
			return
		}
		logging.Error(c).Err(err).Str("alert_id", id).Msg("Alert command failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alert)
}

// Escalations returns the escalation audit log
// @Summary List escalation events
// @Description Append-only audit log of escalation decisions
// @Tags alerts
// @Param alert_id query string false "Filter by alert"
// @Success 200 {object} map[string]interface{}
// @Router /escalations [get]
func (h *AlertHandler) Escalations(c *gin.Context) {
	events := h.scheduler.Events(c.Query("alert_id"))
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
