package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

type ActivityHandler struct {
	service *services.ActivityService
}

func NewActivityHandler(service *services.ActivityService) *ActivityHandler {
	return &ActivityHandler{service: service}
}

// Record stores a CRM action and queues it for anomaly evaluation.
func (h *ActivityHandler) Record(c *gin.Context) {
	var ev services.ActivityEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.Record(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, services.ErrMissingClientID) || errors.Is(err, services.ErrMissingActionType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("failed to record activity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record activity"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": rec.ID, "occurred_at": rec.OccurredAt})
}
