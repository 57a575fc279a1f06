package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/version"
)

// HealthHandler reports service metadata and database reachability.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check answers 200 when the database responds, 503 otherwise. Rate limiting
// keeps working without a database, so callers may treat 503 as degraded.
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{"status": "ok"}
	for k, v := range version.Info() {
		body[k] = v
	}

	status := http.StatusOK
	if err := h.ping(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	c.JSON(status, body)
}

func (h *HealthHandler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
