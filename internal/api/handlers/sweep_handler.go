package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

type SweepHandler struct {
	sweep *services.SweepService
	audit *services.AuditService
}

func NewSweepHandler(sweep *services.SweepService, audit *services.AuditService) *SweepHandler {
	return &SweepHandler{sweep: sweep, audit: audit}
}

// Run performs one sweep. Partial results are returned alongside a 500.
func (h *SweepHandler) Run(c *gin.Context) {
	res, err := h.sweep.Run(c.Request.Context())
	recordAudit(c, h.audit, models.AuditSweepRun, "", fmt.Sprintf("pruned=%d resolved=%d failed=%t", res.PrunedAttempts, res.ResolvedIncidents, err != nil))
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed", "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}
