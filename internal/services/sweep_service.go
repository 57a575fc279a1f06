package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
)

// DefaultAttemptRetention is how long attempt records are kept.
const DefaultAttemptRetention = 24 * time.Hour

// IncidentResolver is the part of the incident store the sweep needs.
type IncidentResolver interface {
	AutoResolve(ctx context.Context, maxAge time.Duration) (int64, error)
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	PrunedAttempts    int64 `json:"pruned_attempts"`
	ResolvedIncidents int64 `json:"resolved_incidents"`
}

// SweepService prunes the attempt ledger and auto-resolves stale incidents.
type SweepService struct {
	attempts  AttemptStore
	incidents IncidentResolver
	retention time.Duration
	maxAge    time.Duration
	now       func() time.Time
}

// NewSweepService returns a sweep with the given retention and incident max age.
func NewSweepService(attempts AttemptStore, incidents IncidentResolver, retention, maxAge time.Duration) *SweepService {
	if retention <= 0 {
		retention = DefaultAttemptRetention
	}
	if maxAge <= 0 {
		maxAge = DefaultIncidentMaxAge
	}
	return &SweepService{
		attempts:  attempts,
		incidents: incidents,
		retention: retention,
		maxAge:    maxAge,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run performs both sweep steps. A failing step does not prevent the other;
// their errors are joined.
func (s *SweepService) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var errs []error

	pruned, err := s.attempts.PruneBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("prune attempts: %w", err))
	} else {
		result.PrunedAttempts = pruned
		metrics.AddAttemptsPruned(pruned)
	}

	resolved, err := s.incidents.AutoResolve(ctx, s.maxAge)
	if err != nil {
		errs = append(errs, err)
	} else {
		result.ResolvedIncidents = resolved
	}

	if len(errs) > 0 {
		metrics.IncSweepRun("error")
		return result, errors.Join(errs...)
	}
	metrics.IncSweepRun("ok")
	logger.Component("sweep").WithField("pruned_attempts", result.PrunedAttempts).
		WithField("resolved_incidents", result.ResolvedIncidents).
		Info("sweep completed")
	return result, nil
}

// Schedule runs the sweep on a cron spec until the returned scheduler is stopped.
func (s *SweepService) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			logger.Component("sweep").WithError(err).Error("scheduled sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
