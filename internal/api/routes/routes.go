package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/handlers"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/database"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

// ActivityIngestPolicy guards the activity endpoint itself.
const ActivityIngestPolicy = "activity_ingest"

// Register wires up API routes and performs automatic migrations. gatherer
// may be nil, in which case /metrics is not exposed.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, guard *services.Guard, gatherer prometheus.Gatherer) error {
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	health := handlers.NewHealthHandler(db)
	router.GET("/api/v1/health", health.Check)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	// Service routes
	callers := api.Group("")
	callers.Use(middleware.OperatorAuth(cfg.OperatorSecret))
	callers.Use(middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin))

	rateLimitHandler := handlers.NewRateLimitHandler(guard.Limiter)
	callers.POST("/ratelimit/check", rateLimitHandler.Check)

	activityHandler := handlers.NewActivityHandler(guard.Activity)
	callers.POST("/activity",
		middleware.RateLimit(guard.Limiter, ActivityIngestPolicy, middleware.ByClientIP),
		activityHandler.Record,
	)

	// Operator routes
	ops := api.Group("")
	ops.Use(middleware.OperatorAuth(cfg.OperatorSecret))
	ops.Use(middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin))

	incidentHandler := handlers.NewIncidentHandler(guard.Incidents, guard.Detector, guard.Audit)
	ops.GET("/incidents", incidentHandler.List)
	ops.POST("/incidents/rescan", incidentHandler.Rescan)
	ops.GET("/incidents/:id", incidentHandler.Get)
	ops.POST("/incidents/:id/resolve", incidentHandler.Resolve)

	suspicionHandler := handlers.NewSuspicionHandler(guard.Scorer, cfg.SuspicionLookback)
	ops.GET("/suspicion/:ip", suspicionHandler.Score)

	sweepHandler := handlers.NewSweepHandler(guard.Sweep, guard.Audit)
	ops.POST("/sweep", sweepHandler.Run)

	ops.GET("/policies", rateLimitHandler.Policies)

	auditHandler := handlers.NewAuditHandler(guard.Audit)
	ops.GET("/audit", auditHandler.List)

	return nil
}
