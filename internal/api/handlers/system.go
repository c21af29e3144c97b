package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"watchtower-alerts-go/internal/services/alertstore"
	"watchtower-alerts-go/internal/services/ingest"
	"watchtower-alerts-go/internal/services/messaging"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	ServiceID string
	store     *alertstore.Service
	ingest    *ingest.Service
	messaging *messaging.Service
}

// NewSystemHandler creates a new system handler. msgSvc may be nil when the
// service runs without NATS.
func NewSystemHandler(serviceID string, store *alertstore.Service, ingestSvc *ingest.Service, msgSvc *messaging.Service) *SystemHandler {
	return &SystemHandler{
		ServiceID: serviceID,
		store:     store,
		ingest:    ingestSvc,
		messaging: msgSvc,
	}
}

// @Summary Get system stats
// @Description Runtime, alert and intake statistics
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	natsConnected := h.messaging != nil && h.messaging.IsConnected()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"service_id":     h.ServiceID,
			"memory_mb":      m.Alloc / 1024 / 1024,
			"cpu_cores":      runtime.NumCPU(),
			"goroutines":     runtime.NumGoroutine(),
			"go_version":     runtime.Version(),
			"nats_connected": natsConnected,
			"alerts":         h.store.Stats(),
			"ingestion":      h.ingest.Stats(),
		},
		"timestamp": time.Now().Unix(),
	})
}
