package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/util"
)

// RateLimitHandler exposes the limiter to services that cannot embed it.
type RateLimitHandler struct {
	limiter *services.RateLimiter
}

func NewRateLimitHandler(limiter *services.RateLimiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

type checkRequest struct {
	Policy     string            `json:"policy" binding:"required"`
	Identifier string            `json:"identifier" binding:"required"`
	SourceIP   string            `json:"source_ip"`
	UserAgent  string            `json:"user_agent"`
	Metadata   map[string]string `json:"metadata"`
}

// Check records one attempt and answers 200 when allowed, 429 when denied.
// A body source_ip is only honored for service and admin callers.
func (h *RateLimitHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	meta := services.RequestMeta{
		SourceIP:  c.ClientIP(),
		UserAgent: req.UserAgent,
		Extra:     req.Metadata,
	}
	if req.SourceIP != "" && middleware.TrustedCaller(c) {
		ip, ok := util.NormalizeIP(req.SourceIP)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source_ip"})
			return
		}
		meta.SourceIP = ip
	}

	res := h.limiter.Check(c.Request.Context(), req.Policy, req.Identifier, meta)
	if !res.FailOpen {
		middleware.WriteRateLimitHeaders(c, res)
	}
	status := http.StatusOK
	if !res.Allowed {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, res)
}

// Policies lists the configured rate-limit policies.
func (h *RateLimitHandler) Policies(c *gin.Context) {
	type policyView struct {
		Name          string `json:"name"`
		Limit         int    `json:"limit"`
		WindowSeconds int64  `json:"window_seconds"`
	}
	list := h.limiter.Policies().List()
	out := make([]policyView, 0, len(list))
	for _, p := range list {
		out = append(out, policyView{Name: p.Name, Limit: p.Limit, WindowSeconds: int64(p.Window.Seconds())})
	}
	c.JSON(http.StatusOK, out)
}
