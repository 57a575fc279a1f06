package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List returns recent operator actions, optionally filtered by actor.
func (h *AuditHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.audit.ListAudit(c.Request.Context(), c.Query("actor"), limit)
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to list audit entries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit entries"})
		return
	}
	if entries == nil {
		entries = []models.SecurityAudit{}
	}
	c.JSON(http.StatusOK, entries)
}

// recordAudit stores an operator action. Failures are logged and never fail
// the request that was audited.
func recordAudit(c *gin.Context, audit *services.AuditService, action, target, details string) {
	if audit == nil {
		return
	}
	actor := c.GetString(middleware.OperatorKey)
	if actor == "" {
		actor = "unknown"
	}
	err := audit.LogAudit(c.Request.Context(), &models.SecurityAudit{
		Actor:   actor,
		Action:  action,
		Target:  target,
		Details: details,
	})
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).WithField("action", action).Warn("failed to record audit entry")
	}
}
