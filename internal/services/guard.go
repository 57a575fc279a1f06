package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
)

// Guard bundles the abuse-control services sharing one database.
type Guard struct {
	Ledger     *GormAttemptLedger
	Limiter    *RateLimiter
	Activity   *ActivityService
	Incidents  *IncidentService
	Detector   *AnomalyDetector
	Scorer     *SuspicionScorer
	Sweep      *SweepService
	Dispatcher *Dispatcher
	Audit      *AuditService
}

// NewGuard wires every service from cfg. Activity writes are fed to the
// detector through the dispatcher once Start is called.
func NewGuard(db *gorm.DB, cfg config.Config) *Guard {
	g := &Guard{Ledger: NewAttemptLedger(db)}

	var notifier IncidentNotifier
	if n := NewShoutrrrNotifier(cfg.Notify.URLs, cfg.Notify.MinSeverity); n != nil {
		notifier = n
	}

	g.Limiter = NewRateLimiter(g.Ledger, cfg.Policies, cfg.StoreTimeout)
	g.Activity = NewActivityService(db)
	g.Incidents = NewIncidentService(db, notifier)
	g.Detector = NewAnomalyDetector(g.Activity, g.Ledger, g.Incidents, cfg.Patterns, cfg.StoreTimeout)
	g.Scorer = NewSuspicionScorer(g.Ledger, g.Incidents, cfg.StoreTimeout)
	g.Sweep = NewSweepService(g.Ledger, g.Incidents, cfg.AttemptRetention, cfg.IncidentMaxAge)
	g.Dispatcher = NewDispatcher(cfg.DetectorQueue, cfg.DetectorWorkers, g.Detector.Handle)
	g.Activity.SetObserver(g.Dispatcher)
	g.Audit = NewAuditService(db)
	return g
}

// Start launches the detector workers.
func (g *Guard) Start(ctx context.Context) {
	g.Dispatcher.Start(ctx)
}

// Stop drains the detector queue.
func (g *Guard) Stop() {
	g.Dispatcher.Stop()
}
