package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/util"
)

type SuspicionHandler struct {
	scorer   *services.SuspicionScorer
	lookback time.Duration
}

func NewSuspicionHandler(scorer *services.SuspicionScorer, lookback time.Duration) *SuspicionHandler {
	return &SuspicionHandler{scorer: scorer, lookback: lookback}
}

// Score returns the suspicion score of the address in :ip. An optional
// lookback query parameter (Go duration) overrides the default window.
func (h *SuspicionHandler) Score(c *gin.Context) {
	ip, ok := util.NormalizeIP(c.Param("ip"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ip address"})
		return
	}
	lookback := h.lookback
	if raw := c.Query("lookback"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > 7*24*time.Hour {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lookback"})
			return
		}
		lookback = d
	}
	c.JSON(http.StatusOK, h.scorer.Score(c.Request.Context(), ip, lookback))
}
