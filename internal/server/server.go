package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/routes"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/ingest"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine   *gin.Engine
	Guard    *services.Guard
	Registry *prometheus.Registry
	cfg      config.Config
}

// New wires up the services, the HTTP router and versioned routes.
func New(db *gorm.DB, cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	guard := services.NewGuard(db, cfg)

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger("/api/v1/health", "/metrics"),
		middleware.Recovery(cfg.Debug),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{IsDevelopment: cfg.Environment == "development"}),
	)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	if err := routes.Register(router, db, cfg, guard, reg); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	return &Server{Engine: router, Guard: guard, Registry: reg, cfg: cfg}, nil
}

// Run starts the background workers and the HTTP server, and shuts all of
// them down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Component("server")

	// Shutdown runs in reverse: scheduler, ingest, then the detector queue is
	// drained before its workers are cancelled.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	s.Guard.Start(workerCtx)
	defer s.Guard.Stop()

	if consumer := ingest.NewKafkaConsumer(s.cfg.Kafka, s.Guard.Activity); consumer != nil {
		ingestCtx, stopIngest := context.WithCancel(context.Background())
		consumer.Start(ingestCtx)
		defer consumer.Wait()
		defer stopIngest()
	}

	if s.cfg.SweepSchedule != "" {
		sched, err := s.Guard.Sweep.Schedule(s.cfg.SweepSchedule, time.Minute)
		if err != nil {
			return err
		}
		log.WithField("schedule", s.cfg.SweepSchedule).Info("sweep scheduled")
		defer func() { <-sched.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithField("port", s.cfg.HTTPPort).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
