package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

type IncidentHandler struct {
	incidents *services.IncidentService
	detector  *services.AnomalyDetector
	audit     *services.AuditService
}

// NewIncidentHandler builds the handler. audit may be nil.
func NewIncidentHandler(incidents *services.IncidentService, detector *services.AnomalyDetector, audit *services.AuditService) *IncidentHandler {
	return &IncidentHandler{incidents: incidents, detector: detector, audit: audit}
}

// List returns incidents filtered by client_id, severity and status, newest first.
func (h *IncidentHandler) List(c *gin.Context) {
	var filter services.IncidentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	list, err := h.incidents.List(c.Request.Context(), filter, limit)
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to list incidents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list incidents"})
		return
	}
	if list == nil {
		list = []models.SecurityIncident{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *IncidentHandler) Get(c *gin.Context) {
	inc, err := h.incidents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to get incident")
		return
	}
	c.JSON(http.StatusOK, inc)
}

// Resolve marks a detected incident as manually resolved by the
// authenticated operator. The request body is ignored.
func (h *IncidentHandler) Resolve(c *gin.Context) {
	operator := c.GetString(middleware.OperatorKey)
	if operator == "" {
		operator = "unknown"
	}

	inc, err := h.incidents.Resolve(c.Request.Context(), c.Param("id"), operator)
	if err != nil {
		if errors.Is(err, services.ErrIncidentNotOpen) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "incident": inc})
			return
		}
		h.writeError(c, err, "Failed to resolve incident")
		return
	}
	middleware.GetRequestLogger(c).WithField("incident_id", inc.IncidentID).
		WithField("operator", operator).Info("incident resolved manually")
	recordAudit(c, h.audit, models.AuditIncidentResolved, inc.IncidentID, "resolved_by="+operator)
	c.JSON(http.StatusOK, inc)
}

type rescanRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	ActorID  string `json:"actor_id"`
}

// Rescan re-evaluates every pattern for a client or actor.
func (h *IncidentHandler) Rescan(c *gin.Context) {
	var req rescanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opened := h.detector.EvaluateAll(c.Request.Context(), req.ClientID, req.ActorID)
	if opened == nil {
		opened = []models.SecurityIncident{}
	}
	recordAudit(c, h.audit, models.AuditIncidentsRescan, req.ClientID, fmt.Sprintf("actor_id=%s opened=%d", req.ActorID, len(opened)))
	c.JSON(http.StatusOK, gin.H{"opened": opened})
}

func (h *IncidentHandler) writeError(c *gin.Context, err error, msg string) {
	if errors.Is(err, services.ErrIncidentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
		return
	}
	middleware.GetRequestLogger(c).WithError(err).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
