package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"selenite/internal/models"
)

// GetSettings returns the current Settings row.
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsGW.Current())
}

// UpdateSettings replaces the Settings row and fans out the change to
// every subscriber (the Scheduler picks up a new max_concurrent_jobs
// without a restart).
func (h *Handler) UpdateSettings(c *gin.Context) {
	var next models.Settings
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settingsGW.Update(c.Request.Context(), next); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}
	if next.MaxConcurrentJobs > 0 {
		h.sched.Reconfigure(next.MaxConcurrentJobs)
	}
	c.JSON(http.StatusOK, h.settingsGW.Current())
}

// QueueStats implements the SUPPLEMENTED FEATURES admin endpoint
// surfacing worker counts, queue depth, and max_concurrent_jobs for
// operator dashboards.
func (h *Handler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Stats())
}

// HealthCheck is an unauthenticated liveness probe.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
